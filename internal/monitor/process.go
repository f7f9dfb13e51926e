package monitor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"familiar/internal/config"
	"familiar/internal/types"
)

// ProcessCheck counts processes and zombies by scanning /proc. A
// runaway fork bomb shows up as a total-count alert; a leaking parent
// shows up as zombies.
type ProcessCheck struct {
	thresholds config.ProcessThresholds
	procDir    string
}

// NewProcessCheck builds the check against /proc.
func NewProcessCheck(t config.ProcessThresholds) *ProcessCheck {
	return &ProcessCheck{thresholds: t, procDir: "/proc"}
}

func (p *ProcessCheck) Name() string            { return "process" }
func (p *ProcessCheck) Interval() time.Duration { return 0 }

func (p *ProcessCheck) Sample(ctx context.Context) ([]Finding, error) {
	entries, err := os.ReadDir(p.procDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", p.procDir, err)
	}

	total, zombies := 0, 0
	for _, e := range entries {
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		total++
		if isZombie(p.procDir + "/" + e.Name() + "/stat") {
			zombies++
		}
	}

	var findings []Finding
	if sev := countLevel(total, p.thresholds.TotalWarning, p.thresholds.TotalCritical); sev != "" {
		findings = append(findings, Finding{
			Type:     "process",
			Device:   "total",
			Severity: sev,
			Message:  fmt.Sprintf("%d processes running", total),
			Details:  map[string]any{"total": total},
		})
	}
	if sev := countLevel(zombies, p.thresholds.ZombieWarning, p.thresholds.ZombieCritical); sev != "" {
		findings = append(findings, Finding{
			Type:     "process",
			Device:   "zombie",
			Severity: sev,
			Message:  fmt.Sprintf("%d zombie processes", zombies),
			Details:  map[string]any{"zombies": zombies},
		})
	}
	return findings, nil
}

func countLevel(v, warning, critical int) types.Severity {
	switch {
	case critical > 0 && v >= critical:
		return types.SeverityCritical
	case warning > 0 && v >= warning:
		return types.SeverityWarning
	}
	return ""
}

// The state field follows the comm field, which may contain spaces and
// parentheses; parse from the last ')'.
func isZombie(statPath string) bool {
	data, err := os.ReadFile(statPath)
	if err != nil {
		return false
	}
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return false
	}
	fields := strings.Fields(s[i+1:])
	return len(fields) > 0 && fields[0] == "Z"
}
