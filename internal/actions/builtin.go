package actions

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"familiar/internal/actuator"
	"familiar/internal/permission"
	"familiar/internal/types"
)

// Observe-and-wait duration bounds.
const (
	minObserveSeconds = 5
	maxObserveSeconds = 3600
)

const maxReadFileBytes = 64 * 1024

// ScreenReader is the optional vision collaborator.
type ScreenReader interface {
	ReadScreen(ctx context.Context) (string, error)
}

// AppController is the optional accessibility collaborator.
type AppController interface {
	ListApplications(ctx context.Context) ([]string, error)
	FocusApplication(ctx context.Context, name string) error
}

// BuiltinDeps wires the built-in actions to their collaborators.
// Screen and Apps may be nil; the corresponding actions then report
// themselves unavailable instead of failing.
type BuiltinDeps struct {
	Actuator   *actuator.Client
	Notifier   types.Notifier
	SandboxDir string
	// Reaction is the short post-action interval.
	Reaction time.Duration

	Screen ScreenReader
	Apps   AppController
}

// RegisterBuiltins registers the full built-in action set.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) {
	for _, a := range builtins(deps) {
		r.MustRegister(a)
	}
}

func builtins(deps BuiltinDeps) []*Action {
	react := deps.Reaction
	if react <= 0 {
		react = 15 * time.Second
	}

	return []*Action{
		{
			Name:        types.ActionObserve,
			Description: "Do nothing and keep watching. Choose how long to wait before the next look.",
			Schema: Schema{
				Properties: map[string]Property{
					"duration_seconds": {
						Type:        "number",
						Description: "Seconds to wait before observing again (5-3600).",
						Default:     types.DefaultObserveSeconds,
					},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				secs := FloatArg(args, "duration_seconds", types.DefaultObserveSeconds)
				if secs < minObserveSeconds {
					secs = minObserveSeconds
				}
				if secs > maxObserveSeconds {
					secs = maxObserveSeconds
				}
				return HandlerResult{
					NextInterval: time.Duration(secs * float64(time.Second)),
					Output:       fmt.Sprintf("observing for %.0f seconds", secs),
				}, nil
			},
		},
		{
			Name:        "speak",
			Description: "Say something short to the user.",
			Schema: Schema{
				Required: []string{"text"},
				Properties: map[string]Property{
					"text": {Type: "string", Description: "What to say."},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				text := StringArg(args, "text", "")
				if deps.Notifier != nil {
					deps.Notifier.Notify(types.SeverityInfo, "familiar", text)
				}
				return HandlerResult{NextInterval: react, Output: text}, nil
			},
		},
		{
			Name:        "set_behavior",
			Description: "Switch the embodied entity's animation/behavior (idle, wave, sleep, dance, ...).",
			Schema: Schema{
				Required: []string{"behavior"},
				Properties: map[string]Property{
					"behavior":  {Type: "string", Description: "Behavior name to activate."},
					"entity_id": {Type: "string", Description: "Target entity; defaults to the first discovered one."},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				id, err := resolveEntity(ctx, deps.Actuator, StringArg(args, "entity_id", ""))
				if err != nil {
					return HandlerResult{}, err
				}
				behavior := StringArg(args, "behavior", "idle")
				if err := deps.Actuator.SetBehavior(ctx, id, behavior); err != nil {
					return HandlerResult{}, err
				}
				return HandlerResult{NextInterval: react, Output: "behavior set to " + behavior}, nil
			},
		},
		{
			Name:        "move_to",
			Description: "Move the embodied entity's anchor to a screen position.",
			Schema: Schema{
				Required: []string{"x", "y"},
				Properties: map[string]Property{
					"x":         {Type: "number", Description: "Horizontal position."},
					"y":         {Type: "number", Description: "Vertical position."},
					"entity_id": {Type: "string", Description: "Target entity; defaults to the first discovered one."},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				id, err := resolveEntity(ctx, deps.Actuator, StringArg(args, "entity_id", ""))
				if err != nil {
					return HandlerResult{}, err
				}
				anchor := actuator.Anchor{
					X: FloatArg(args, "x", 0),
					Y: FloatArg(args, "y", 0),
				}
				if err := deps.Actuator.MoveTo(ctx, id, anchor); err != nil {
					return HandlerResult{}, err
				}
				return HandlerResult{NextInterval: react, Output: fmt.Sprintf("moved to %.0f,%.0f", anchor.X, anchor.Y)}, nil
			},
		},
		{
			Name:        "run_process",
			Description: "Run a short command on the host and read its output.",
			Scope:       permission.ScopeProcessRun,
			Schema: Schema{
				Required: []string{"command"},
				Properties: map[string]Property{
					"command": {Type: "string", Description: "Executable to run."},
					"args":    {Type: "array", Description: "Arguments for the command.", Items: &PropertyItems{Type: "string"}},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				command := StringArg(args, "command", "")
				cmdCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()

				out, err := exec.CommandContext(cmdCtx, command, StringsArg(args, "args")...).CombinedOutput()
				output := strings.TrimSpace(string(out))
				if len(output) > 4096 {
					output = output[:4096] + "\n... (truncated)"
				}
				if err != nil {
					return HandlerResult{}, fmt.Errorf("run_process %q: %w (output: %s)", command, err, output)
				}
				return HandlerResult{NextInterval: react, Output: output}, nil
			},
		},
		{
			Name:        "read_clipboard",
			Description: "Read the current clipboard contents.",
			Scope:       permission.ScopeClipboardRead,
			Schema:      Schema{},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				text, err := readClipboard(ctx)
				if err != nil {
					return HandlerResult{}, err
				}
				return HandlerResult{NextInterval: react, Output: text}, nil
			},
		},
		{
			Name:        "read_file",
			Description: "Read a text file from the host filesystem.",
			Scope:       permission.ScopeFileReadAll,
			Schema: Schema{
				Required: []string{"path"},
				Properties: map[string]Property{
					"path": {Type: "string", Description: "Absolute path of the file."},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				path := StringArg(args, "path", "")
				f, err := os.Open(path)
				if err != nil {
					return HandlerResult{}, fmt.Errorf("read_file: %w", err)
				}
				defer f.Close()

				buf := make([]byte, maxReadFileBytes)
				n, _ := f.Read(buf)
				return HandlerResult{NextInterval: react, Output: string(buf[:n])}, nil
			},
		},
		{
			Name:        "write_note",
			Description: "Write a note into the agent's sandbox directory.",
			Scope:       permission.ScopeFileWriteSandbox,
			Schema: Schema{
				Required: []string{"name", "content"},
				Properties: map[string]Property{
					"name":    {Type: "string", Description: "Note filename."},
					"content": {Type: "string", Description: "Note body."},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				if deps.SandboxDir == "" {
					return HandlerResult{}, fmt.Errorf("write_note: no sandbox directory configured")
				}
				if err := os.MkdirAll(deps.SandboxDir, 0755); err != nil {
					return HandlerResult{}, fmt.Errorf("write_note: %w", err)
				}
				// Base strips any path traversal out of the name.
				name := filepath.Base(StringArg(args, "name", "note.txt"))
				path := filepath.Join(deps.SandboxDir, name)
				if err := os.WriteFile(path, []byte(StringArg(args, "content", "")), 0644); err != nil {
					return HandlerResult{}, fmt.Errorf("write_note: %w", err)
				}
				return HandlerResult{NextInterval: react, Output: "wrote " + name}, nil
			},
		},
		{
			Name:        "glance_screen",
			Description: "Look at the screen and describe what is visible.",
			Scope:       permission.ScopeVisionReadScreen,
			Schema:      Schema{},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				if deps.Screen == nil {
					return HandlerResult{NextInterval: react, Output: "screen reading is not available"}, nil
				}
				desc, err := deps.Screen.ReadScreen(ctx)
				if err != nil {
					return HandlerResult{}, err
				}
				return HandlerResult{NextInterval: react, Output: desc}, nil
			},
		},
		{
			Name:        "list_applications",
			Description: "List the applications currently running with windows.",
			Scope:       permission.ScopeAccessibilityRead,
			Schema:      Schema{},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				if deps.Apps == nil {
					return HandlerResult{NextInterval: react, Output: "application listing is not available"}, nil
				}
				apps, err := deps.Apps.ListApplications(ctx)
				if err != nil {
					return HandlerResult{}, err
				}
				return HandlerResult{NextInterval: react, Output: strings.Join(apps, "\n")}, nil
			},
		},
		{
			Name:        "focus_application",
			Description: "Bring an application's window to the foreground.",
			Scope:       permission.ScopeAccessibilityControl,
			Schema: Schema{
				Required: []string{"name"},
				Properties: map[string]Property{
					"name": {Type: "string", Description: "Application name to focus."},
				},
			},
			Handler: func(ctx context.Context, args map[string]any, snapshot types.ContextSnapshot) (HandlerResult, error) {
				if deps.Apps == nil {
					return HandlerResult{NextInterval: react, Output: "application control is not available"}, nil
				}
				name := StringArg(args, "name", "")
				if err := deps.Apps.FocusApplication(ctx, name); err != nil {
					return HandlerResult{}, err
				}
				return HandlerResult{NextInterval: react, Output: "focused " + name}, nil
			},
		},
	}
}

// resolveEntity picks the explicit entity id or falls back to the first
// discovered entity.
func resolveEntity(ctx context.Context, client *actuator.Client, id string) (string, error) {
	if client == nil {
		return "", fmt.Errorf("actuator not configured")
	}
	if id != "" {
		return id, nil
	}
	entities, err := client.Discover(ctx)
	if err != nil {
		return "", err
	}
	if len(entities) == 0 {
		return "", fmt.Errorf("no actuator entities discovered")
	}
	return entities[0].ID, nil
}

// readClipboard shells out to whichever clipboard tool the host has.
func readClipboard(ctx context.Context) (string, error) {
	candidates := [][]string{
		{"wl-paste", "--no-newline"},
		{"xclip", "-selection", "clipboard", "-o"},
		{"xsel", "--clipboard", "--output"},
		{"pbpaste"},
	}
	var lastErr error
	for _, c := range candidates {
		out, err := exec.CommandContext(ctx, c[0], c[1:]...).Output()
		if err == nil {
			return strings.TrimSpace(string(out)), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("read_clipboard: no clipboard tool available: %w", lastErr)
}
