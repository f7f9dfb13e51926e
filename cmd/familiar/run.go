package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"familiar/internal/actions"
	"familiar/internal/actuator"
	"familiar/internal/brain"
	"familiar/internal/bus"
	"familiar/internal/config"
	"familiar/internal/executor"
	"familiar/internal/governor"
	"familiar/internal/history"
	"familiar/internal/logging"
	"familiar/internal/mode"
	"familiar/internal/monitor"
	"familiar/internal/permission"
	"familiar/internal/reasoning"
	"familiar/internal/server"
	"familiar/internal/store"
	"familiar/internal/types"
)

// desktopNotifier delivers notices through notify-send when available
// and always mirrors them to the log.
type desktopNotifier struct {
	log *zap.Logger
}

func (n *desktopNotifier) Notify(sev types.Severity, title, body string) {
	n.log.Info("notice", zap.String("severity", string(sev)), zap.String("title", title), zap.String("body", body))
	if _, err := exec.LookPath("notify-send"); err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "notify-send", "--", title, body).Run()
}

// localContext is the fallback context source when no external sensor
// process is wired: wall clock plus the machine's identity. Changes
// never fires; the loop runs purely on the adaptive timer.
type localContext struct{}

func (localContext) Observe(ctx context.Context) (types.ContextSnapshot, error) {
	snapshot := types.ContextSnapshot{
		"time": time.Now().Format("Mon Jan 2 15:04:05 2006"),
		"os":   runtime.GOOS,
	}
	if host, err := os.Hostname(); err == nil {
		snapshot["host"] = host
	}
	return snapshot, nil
}

func (localContext) Changes() <-chan struct{} { return nil }

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	persona, err := config.LoadPersona(workspace)
	if err != nil {
		return err
	}
	if err := logging.Initialize(workspace); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Close()
	logging.Boot("starting familiar %q in %s", persona.Name, workspace)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistence and the ledger built on it.
	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ledger, err := permission.NewLedger(st)
	if err != nil {
		return err
	}

	events := bus.New()
	defer events.Close()

	notifier := &desktopNotifier{log: logger}

	// The embodiment client and the action surface on top of it.
	actCfg := actuator.DefaultConfig(cfg.Actuator.BaseURL)
	actCfg.Timeout = cfg.Actuator.Timeout()
	actCfg.CacheTTL = cfg.Actuator.CacheTTL()
	if cfg.Actuator.BackoffInitMs > 0 {
		actCfg.BackoffInitial = time.Duration(cfg.Actuator.BackoffInitMs) * time.Millisecond
	}
	if cfg.Actuator.BackoffMaxMs > 0 {
		actCfg.BackoffMax = time.Duration(cfg.Actuator.BackoffMaxMs) * time.Millisecond
	}
	if cfg.Actuator.JitterFraction > 0 {
		actCfg.JitterFraction = cfg.Actuator.JitterFraction
	}
	embodiment := actuator.New(actCfg)

	registry := actions.NewRegistry()
	actions.RegisterBuiltins(registry, actions.BuiltinDeps{
		Actuator:   embodiment,
		Notifier:   notifier,
		SandboxDir: cfg.Executor.SandboxDir,
		Reaction:   cfg.Executor.ReactionInterval(),
	})

	plugins := actions.NewPluginRunner(cfg.Executor.PluginDir)
	ring := history.NewRing(cfg.Executor.HistorySize)

	dispatcher := executor.New(executor.Config{
		AgentID:         cfg.AgentID,
		DefaultInterval: cfg.Executor.DefaultInterval(),
		Reaction:        cfg.Executor.ReactionInterval(),
		AskPolicy:       executor.ParseAskPolicy(cfg.Executor.AskPolicy),
	}, registry, plugins, ledger, ring, st, events, notifier)

	// Reasoning.
	client, err := reasoning.NewClient(ctx, cfg.Reasoning)
	if err != nil {
		return err
	}
	gov := governor.New(cfg.Rate.MaxCalls, cfg.Rate.Window())
	ambient := brain.NewAmbient(client, gov, registry, persona.SystemPrompt, cfg.Reasoning.Timeout())
	interactive := brain.NewInteractive(client, gov, dispatcher, registry,
		persona.SystemPrompt, cfg.Reasoning.Timeout(), cfg.Reasoning.MaxChainedSteps)

	controller := mode.New(mode.Config{
		InitialInterval:    cfg.Executor.DefaultInterval(),
		EscalationCooldown: cfg.Mode.EscalationCooldown(),
	}, ambient, interactive, dispatcher, localContext{}, events, ring, types.EmotionalState(persona.Emotions))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return controller.Run(ctx) })

	// Health monitors.
	if cfg.Monitor.Enabled {
		manager := monitor.NewManager(monitor.Config{
			DefaultInterval: cfg.Monitor.SampleInterval(),
			SampleTimeout:   cfg.Monitor.SampleTimeout(),
			Cooldown:        cfg.Monitor.Cooldown(),
		}, events)
		manager.Register(monitor.NewLoadCheck(cfg.Monitor.Load))
		manager.Register(monitor.NewProcessCheck(cfg.Monitor.Process))
		manager.Register(monitor.NewDiskCheck(cfg.Monitor.Disk))
		if cfg.Monitor.Peers.Enabled {
			manager.Register(monitor.NewPeerCheck(cfg.Monitor.Peers))
		}
		if cfg.Monitor.Logs.Enabled && len(cfg.Monitor.Logs.Files) > 0 {
			logCheck, err := monitor.NewLogCheck(cfg.Monitor.Logs)
			if err != nil {
				return err
			}
			manager.Register(logCheck)
			g.Go(func() error {
				logCheck.Watch(ctx)
				return nil
			})
		}
		g.Go(func() error { return manager.Run(ctx) })
	}

	// Surface non-critical alerts as notifications; criticals are
	// handled by the mode controller's escalation path.
	alerts := events.Subscribe(bus.TopicAlertInfo, bus.TopicAlertWarning)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-alerts:
				if !ok {
					return nil
				}
				if ev.Alert != nil {
					notifier.Notify(ev.Alert.Severity, "familiar noticed something", ev.Alert.Message)
				}
			}
		}
	})

	// Prompt server for the desktop shell.
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, controller, logger)
		g.Go(func() error { return srv.ListenAndServe(ctx) })
	}

	logger.Info("familiar running",
		zap.String("agent_id", cfg.AgentID),
		zap.String("provider", cfg.Reasoning.Provider),
		zap.String("model", cfg.Reasoning.Model))

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Boot("familiar stopped")
	if err := st.Flush(); err != nil {
		logger.Warn("final flush failed", zap.Error(err))
	}
	return nil
}
