package actions

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"familiar/internal/logging"
)

// PluginRunner is the bounded fallback path for actions no registry
// entry matches. A plugin is a single Go file at <dir>/<action>.go,
// interpreted with yaegi rather than compiled, which keeps user plugins
// free of toolchain and dependency problems. The file must define:
//
//	func HandleAction(args map[string]any) (string, error)
//
// Only whitelisted stdlib imports are allowed; os, os/exec, net and
// friends are rejected up front.
type PluginRunner struct {
	dir     string
	allowed map[string]bool
}

// NewPluginRunner creates a runner over the given plugin directory.
func NewPluginRunner(dir string) *PluginRunner {
	return &PluginRunner{
		dir: dir,
		allowed: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"unicode":         true,
		},
	}
}

// Has reports whether a plugin file exists for the action name.
func (p *PluginRunner) Has(name string) bool {
	if p.dir == "" || !validPluginName(name) {
		return false
	}
	_, err := os.Stat(filepath.Join(p.dir, name+".go"))
	return err == nil
}

// Run executes the plugin for the action name. Returns ErrNoPluginMatch
// when no plugin file exists. The context bounds execution time.
func (p *PluginRunner) Run(ctx context.Context, name string, args map[string]any) (string, error) {
	if !p.Has(name) {
		return "", fmt.Errorf("%w: %s", ErrNoPluginMatch, name)
	}

	path := filepath.Join(p.dir, name+".go")
	code, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("plugin %s: %w", name, err)
	}
	if err := p.validateImports(string(code)); err != nil {
		return "", fmt.Errorf("plugin %s: %w", name, err)
	}

	type result struct {
		out string
		err error
	}
	resCh := make(chan result, 1)

	// yaegi has no context support; run the interpreter in its own
	// goroutine and abandon it on timeout.
	go func() {
		out, err := p.eval(string(code), args)
		resCh <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("plugin %s: %w", name, ctx.Err())
	case r := <-resCh:
		if r.err != nil {
			logging.Plugin("plugin %s failed: %v", name, r.err)
		} else {
			logging.Plugin("plugin %s completed", name)
		}
		return r.out, r.err
	}
}

func (p *PluginRunner) eval(code string, args map[string]any) (string, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return "", fmt.Errorf("failed to load stdlib: %w", err)
	}

	if !strings.Contains(code, "package ") {
		code = "package main\n\n" + code
	}
	if _, err := i.Eval(code); err != nil {
		return "", fmt.Errorf("evaluation failed: %w", err)
	}

	v, err := i.Eval("main.HandleAction")
	if err != nil {
		return "", fmt.Errorf("plugin does not define HandleAction: %w", err)
	}
	handle, ok := v.Interface().(func(map[string]any) (string, error))
	if !ok {
		return "", fmt.Errorf("HandleAction has wrong signature")
	}
	return handle(args)
}

var importRe = regexp.MustCompile(`(?m)^\s*(?:import\s+)?"([^"]+)"`)

func (p *PluginRunner) validateImports(code string) error {
	// Look only at the import block/in-line imports at the top.
	for _, m := range importRe.FindAllStringSubmatch(code, -1) {
		pkg := m[1]
		if !p.allowed[pkg] {
			return fmt.Errorf("import %q is not allowed in plugins", pkg)
		}
	}
	return nil
}

var pluginNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func validPluginName(name string) bool {
	return pluginNameRe.MatchString(name)
}
