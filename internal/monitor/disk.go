package monitor

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"familiar/internal/config"
)

// DiskCheck samples used-space fractions for the configured mounts via
// statfs. Each mount is its own alert device so a full /var does not
// mask a filling /home.
type DiskCheck struct {
	thresholds config.DiskThresholds
	statfs     func(path string, buf *syscall.Statfs_t) error
}

// NewDiskCheck builds the check. Mounts default to "/" when empty.
func NewDiskCheck(t config.DiskThresholds) *DiskCheck {
	if len(t.Mounts) == 0 {
		t.Mounts = []string{"/"}
	}
	return &DiskCheck{thresholds: t, statfs: syscall.Statfs}
}

func (d *DiskCheck) Name() string            { return "disk" }
func (d *DiskCheck) Interval() time.Duration { return 60 * time.Second }

func (d *DiskCheck) Sample(ctx context.Context) ([]Finding, error) {
	var findings []Finding
	for _, mount := range d.thresholds.Mounts {
		var st syscall.Statfs_t
		if err := d.statfs(mount, &st); err != nil {
			return findings, fmt.Errorf("statfs %s: %w", mount, err)
		}
		if st.Blocks == 0 {
			continue
		}
		used := 1 - float64(st.Bavail)/float64(st.Blocks)
		if sev := levelFor(used, d.thresholds.UsedWarning, d.thresholds.UsedCritical); sev != "" {
			findings = append(findings, Finding{
				Type:     "disk",
				Device:   mount,
				Severity: sev,
				Message:  fmt.Sprintf("%s is %.0f%% full", mount, used*100),
				Details:  map[string]any{"used_fraction": used},
			})
		}
	}
	return findings, nil
}
