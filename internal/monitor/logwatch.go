package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"familiar/internal/config"
	"familiar/internal/logging"
	"familiar/internal/types"
)

// LogCheck tails configured log files through fsnotify and counts
// pattern matches between samples. Sample drains the per-file counters,
// so thresholds apply to matches per sampling window.
type LogCheck struct {
	cfg      config.LogWatchConfig
	patterns []*regexp.Regexp

	mu      sync.Mutex
	offsets map[string]int64
	matches map[string]int

	watcher *fsnotify.Watcher
	once    sync.Once
}

// NewLogCheck compiles the patterns and opens the watcher. Files that
// do not exist yet are picked up when they appear.
func NewLogCheck(cfg config.LogWatchConfig) (*LogCheck, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.Patterns))
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("bad log pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	l := &LogCheck{
		cfg:      cfg,
		patterns: patterns,
		offsets:  make(map[string]int64),
		matches:  make(map[string]int),
		watcher:  watcher,
	}
	for _, f := range cfg.Files {
		if err := watcher.Add(f); err != nil {
			logging.Monitor("cannot watch %s yet: %v", f, err)
			continue
		}
		// Start from the current end; history is not an anomaly.
		if info, err := os.Stat(f); err == nil {
			l.offsets[f] = info.Size()
		}
	}
	return l, nil
}

func (l *LogCheck) Name() string            { return "log" }
func (l *LogCheck) Interval() time.Duration { return 0 }

// Watch consumes fsnotify events until ctx is cancelled. Run it in its
// own goroutine alongside the manager.
func (l *LogCheck) Watch(ctx context.Context) {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				l.scan(ev.Name)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logging.Monitor("log watcher error: %v", err)
		}
	}
}

// Close releases the watcher. Safe to call more than once.
func (l *LogCheck) Close() {
	l.once.Do(func() { l.watcher.Close() })
}

// scan reads newly appended lines of one file and counts matches.
func (l *LogCheck) scan(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	l.mu.Lock()
	offset := l.offsets[path]
	l.mu.Unlock()

	if info, err := f.Stat(); err == nil && info.Size() < offset {
		// Truncated or rotated, start over.
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return
	}

	// Only complete lines advance the offset; a partial tail is
	// re-read once its newline arrives.
	count := 0
	pos := offset
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := string(data[:i])
		for _, re := range l.patterns {
			if re.MatchString(line) {
				count++
				break
			}
		}
		data = data[i+1:]
		pos += int64(i) + 1
	}

	l.mu.Lock()
	l.offsets[path] = pos
	l.matches[path] += count
	l.mu.Unlock()
}

// Sample drains the counters accumulated since the previous sample.
func (l *LogCheck) Sample(ctx context.Context) ([]Finding, error) {
	l.mu.Lock()
	drained := l.matches
	l.matches = make(map[string]int)
	l.mu.Unlock()

	var findings []Finding
	for file, n := range drained {
		sev := types.Severity("")
		switch {
		case l.cfg.MatchCritical > 0 && n >= l.cfg.MatchCritical:
			sev = types.SeverityCritical
		case l.cfg.MatchWarning > 0 && n >= l.cfg.MatchWarning:
			sev = types.SeverityWarning
		}
		if sev == "" {
			continue
		}
		findings = append(findings, Finding{
			Type:     "log",
			Device:   file,
			Severity: sev,
			Message:  fmt.Sprintf("%d anomalous lines in %s", n, file),
			Details:  map[string]any{"matches": n},
		})
	}
	return findings, nil
}
