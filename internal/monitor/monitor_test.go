package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"familiar/internal/bus"
	"familiar/internal/config"
	"familiar/internal/types"
)

func collectAlerts(t *testing.T, ch <-chan bus.Event, want int) []*types.Alert {
	t.Helper()
	var alerts []*types.Alert
	timeout := time.After(2 * time.Second)
	for len(alerts) < want {
		select {
		case ev := <-ch:
			alerts = append(alerts, ev.Alert)
		case <-timeout:
			t.Fatalf("got %d alerts, want %d", len(alerts), want)
		}
	}
	return alerts
}

func requireNoAlert(t *testing.T, ch <-chan bus.Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected alert %s/%s", ev.Alert.Type, ev.Alert.Device)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestManager(t *testing.T) (*Manager, <-chan bus.Event) {
	t.Helper()
	events := bus.New()
	t.Cleanup(events.Close)
	m := NewManager(Config{Cooldown: time.Minute}, events)
	ch := events.Subscribe(bus.TopicAlertInfo, bus.TopicAlertWarning, bus.TopicAlertCritical)
	return m, ch
}

func warning(device string) Finding {
	return Finding{Type: "disk", Device: device, Severity: types.SeverityWarning, Message: device + " filling"}
}

func critical(device string) Finding {
	return Finding{Type: "disk", Device: device, Severity: types.SeverityCritical, Message: device + " full"}
}

func TestAlertOnlyOnUpwardTransition(t *testing.T) {
	m, ch := newTestManager(t)

	m.evaluate("disk", []Finding{warning("/")})
	alerts := collectAlerts(t, ch, 1)
	require.Equal(t, types.SeverityWarning, alerts[0].Severity)

	// Same state again: no new alert.
	m.evaluate("disk", []Finding{warning("/")})
	requireNoAlert(t, ch)
}

func TestEscalationToCriticalAlertsAgain(t *testing.T) {
	m, ch := newTestManager(t)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	m.evaluate("disk", []Finding{warning("/")})
	collectAlerts(t, ch, 1)

	// Severity rose but the key is in cooldown.
	m.evaluate("disk", []Finding{critical("/")})
	requireNoAlert(t, ch)

	// Clear, then rise again after the cooldown.
	clock = clock.Add(2 * time.Minute)
	m.evaluate("disk", nil)
	m.evaluate("disk", []Finding{critical("/")})
	alerts := collectAlerts(t, ch, 1)
	require.Equal(t, types.SeverityCritical, alerts[0].Severity)
}

func TestClearedConditionResetsBaseline(t *testing.T) {
	m, ch := newTestManager(t)
	clock := time.Now()
	m.now = func() time.Time { return clock }

	m.evaluate("disk", []Finding{warning("/")})
	collectAlerts(t, ch, 1)

	m.evaluate("disk", nil)
	requireNoAlert(t, ch)

	clock = clock.Add(2 * time.Minute)
	m.evaluate("disk", []Finding{warning("/")})
	collectAlerts(t, ch, 1)
}

func TestCooldownIsPerDevice(t *testing.T) {
	m, ch := newTestManager(t)

	m.evaluate("disk", []Finding{warning("/")})
	collectAlerts(t, ch, 1)

	// A different device alerts immediately.
	m.evaluate("disk", []Finding{warning("/"), warning("/home")})
	alerts := collectAlerts(t, ch, 1)
	require.Equal(t, "/home", alerts[0].Device)
}

func TestAlertCarriesIdentity(t *testing.T) {
	m, ch := newTestManager(t)

	m.evaluate("disk", []Finding{warning("/data")})
	alerts := collectAlerts(t, ch, 1)
	require.NotEmpty(t, alerts[0].ID)
	require.Equal(t, "disk", alerts[0].Type)
	require.Equal(t, "/data", alerts[0].Device)
	require.False(t, alerts[0].Timestamp.IsZero())
}

func TestLevelFor(t *testing.T) {
	require.Equal(t, types.Severity(""), levelFor(0.5, 1.5, 4.0))
	require.Equal(t, types.SeverityWarning, levelFor(2.0, 1.5, 4.0))
	require.Equal(t, types.SeverityCritical, levelFor(4.5, 1.5, 4.0))
	// Unset thresholds never fire.
	require.Equal(t, types.Severity(""), levelFor(99, 0, 0))
}

func TestMemUsedFraction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	require.NoError(t, os.WriteFile(path, []byte(
		"MemTotal:       1000 kB\nMemFree:         100 kB\nMemAvailable:    250 kB\n"), 0o644))

	used, err := memUsedFraction(path)
	require.NoError(t, err)
	require.InDelta(t, 0.75, used, 1e-9)
}

func TestIsZombie(t *testing.T) {
	dir := t.TempDir()
	zombie := filepath.Join(dir, "zombie")
	require.NoError(t, os.WriteFile(zombie, []byte("42 (some (weird) name) Z 1 42\n"), 0o644))
	running := filepath.Join(dir, "running")
	require.NoError(t, os.WriteFile(running, []byte("43 (bash) S 1 43\n"), 0o644))

	require.True(t, isZombie(zombie))
	require.False(t, isZombie(running))
}

func TestParseHexAddr(t *testing.T) {
	// 0100007F is 127.0.0.1 little endian, 1F90 is port 8080.
	addr, err := parseHexAddr("0100007F:1F90")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:8080", addr)

	_, err = parseHexAddr("nonsense")
	require.Error(t, err)
}

func TestPeerCheckKeysFindingsPerRemoteAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcp")
	content := "  sl  local_address rem_address   st\n" +
		"   0: 0100007F:0016 0100007F:1F90 01\n" +
		"   1: 0100007F:0016 0200007F:0050 01\n" +
		"   2: 0100007F:0016 0300007F:0050 0A\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	check := NewPeerCheck(config.PeerConfig{NewPeerWarning: 2})
	check.files = []string{path}

	findings, err := check.Sample(t.Context())
	require.NoError(t, err)
	require.Len(t, findings, 2, "one finding per new peer, listening-state lines skipped")

	var devices []string
	for _, f := range findings {
		devices = append(devices, f.Device)
		require.Equal(t, types.SeverityWarning, f.Severity, "batch of two reaches the warning threshold")
	}
	require.ElementsMatch(t, []string{"127.0.0.1:8080", "127.0.0.2:80"}, devices)

	// Seen peers stay quiet on the next sample.
	findings, err = check.Sample(t.Context())
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestLogCheckCountsNewMatchesOnly(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(logPath, []byte("old ERROR line\n"), 0o644))

	check, err := NewLogCheck(config.LogWatchConfig{
		Enabled:       true,
		Files:         []string{logPath},
		Patterns:      []string{`ERROR`},
		MatchWarning:  1,
		MatchCritical: 3,
	})
	require.NoError(t, err)
	t.Cleanup(check.Close)

	// Pre-existing content is not an anomaly.
	findings, err := check.Sample(t.Context())
	require.NoError(t, err)
	require.Empty(t, findings)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("ERROR one\nok line\nERROR two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	check.scan(logPath)

	findings, err = check.Sample(t.Context())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, types.SeverityWarning, findings[0].Severity)
	require.Equal(t, 2, findings[0].Details["matches"])

	// Drained: the next sample starts from zero.
	findings, err = check.Sample(t.Context())
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestLogCheckRejectsBadPattern(t *testing.T) {
	_, err := NewLogCheck(config.LogWatchConfig{Patterns: []string{`([`}})
	require.Error(t, err)
}
