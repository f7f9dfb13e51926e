package monitor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"familiar/internal/config"
	"familiar/internal/types"
)

// LoadCheck samples CPU load from /proc/loadavg and memory pressure
// from /proc/meminfo. Load is normalized by CPU count so thresholds
// hold across machines.
type LoadCheck struct {
	thresholds config.LoadThresholds
	loadavg    string
	meminfo    string
}

// NewLoadCheck builds the check with standard proc paths.
func NewLoadCheck(t config.LoadThresholds) *LoadCheck {
	return &LoadCheck{
		thresholds: t,
		loadavg:    "/proc/loadavg",
		meminfo:    "/proc/meminfo",
	}
}

func (l *LoadCheck) Name() string            { return "load" }
func (l *LoadCheck) Interval() time.Duration { return 0 }

func (l *LoadCheck) Sample(ctx context.Context) ([]Finding, error) {
	var findings []Finding

	load1, err := readLoad1(l.loadavg)
	if err != nil {
		return nil, err
	}
	normalized := load1 / float64(runtime.NumCPU())
	if sev := levelFor(normalized, l.thresholds.LoadWarning, l.thresholds.LoadCritical); sev != "" {
		findings = append(findings, Finding{
			Type:     "load",
			Device:   "cpu",
			Severity: sev,
			Message:  fmt.Sprintf("normalized load is %.2f", normalized),
			Details:  map[string]any{"load1": load1, "cpus": runtime.NumCPU()},
		})
	}

	used, err := memUsedFraction(l.meminfo)
	if err != nil {
		return findings, err
	}
	if sev := levelFor(used, l.thresholds.MemUsedWarning, l.thresholds.MemUsedCritical); sev != "" {
		findings = append(findings, Finding{
			Type:     "memory",
			Device:   "ram",
			Severity: sev,
			Message:  fmt.Sprintf("memory %.0f%% used", used*100),
			Details:  map[string]any{"used_fraction": used},
		})
	}
	return findings, nil
}

// levelFor maps a value to a severity, empty when below warning.
func levelFor(v, warning, critical float64) types.Severity {
	switch {
	case critical > 0 && v >= critical:
		return types.SeverityCritical
	case warning > 0 && v >= warning:
		return types.SeverityWarning
	}
	return ""
}

func readLoad1(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, fmt.Errorf("malformed %s", path)
	}
	return strconv.ParseFloat(fields[0], 64)
}

// memUsedFraction computes 1 - MemAvailable/MemTotal.
func memUsedFraction(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var total, available float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	if total == 0 {
		return 0, fmt.Errorf("no MemTotal in %s", path)
	}
	return 1 - available/total, nil
}
