package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"familiar/internal/config"
	"familiar/internal/permission"
	"familiar/internal/store"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "familiar",
	Short: "familiar - an embodied desktop companion agent",
	Long: `familiar is the control core of a small desktop companion.

It runs an ambient observe/decide/act loop against a reasoning service,
keeps a permission ledger over every capability the model can reach, and
watches local system health so the companion can react to trouble.

The visual shell and the sensor layer are separate processes; this
binary is the brain.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd starts the agent loop
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the companion agent",
	Long: `Starts the full agent: the ambient decision loop, the health
monitors, and the prompt server the desktop shell connects to. Runs
until interrupted.`,
	RunE: runAgent,
}

// healthCmd pings a running agent
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether a running agent answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		reply, err := sendLine(cfg.Server.Addr, "ping")
		if err != nil {
			return fmt.Errorf("agent not reachable at %s: %w", cfg.Server.Addr, err)
		}
		fmt.Println(reply)
		return nil
	},
}

// askCmd sends one prompt to a running agent
var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Send a prompt to the running agent",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		req, err := json.Marshal(map[string]string{"prompt": strings.Join(args, " ")})
		if err != nil {
			return err
		}
		reply, err := sendLine(cfg.Server.Addr, string(req))
		if err != nil {
			return fmt.Errorf("agent not reachable at %s: %w", cfg.Server.Addr, err)
		}

		var out struct {
			Response string `json:"response"`
			Error    string `json:"error"`
		}
		if err := json.Unmarshal([]byte(reply), &out); err != nil {
			return fmt.Errorf("malformed reply: %w", err)
		}
		if out.Error != "" {
			return fmt.Errorf("%s", out.Error)
		}
		fmt.Println(out.Response)
		return nil
	},
}

// grantCmd sets one ledger entry to allow or deny
var grantCmd = &cobra.Command{
	Use:   "grant [scope] [allow|deny]",
	Short: "Set a permission scope for this agent",
	Long: `Writes one grant into the permission ledger. Scopes:

  ` + strings.Join(permission.KnownScopes, "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(cfg *config.Config, ledger *permission.Ledger, st *store.Store) error {
			status := permission.Status(args[1])
			if err := ledger.Set(cfg.AgentID, args[0], status); err != nil {
				return err
			}
			if err := st.Flush(); err != nil {
				return err
			}
			fmt.Printf("%s = %s\n", args[0], status)
			return nil
		})
	},
}

// revokeCmd reverts one scope to ask
var revokeCmd = &cobra.Command{
	Use:   "revoke [scope]",
	Short: "Revoke a permission scope (reverts to ask)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(cfg *config.Config, ledger *permission.Ledger, st *store.Store) error {
			ledger.Revoke(cfg.AgentID, args[0])
			if err := st.Flush(); err != nil {
				return err
			}
			fmt.Printf("%s = ask\n", args[0])
			return nil
		})
	},
}

// permsCmd lists the ledger
var permsCmd = &cobra.Command{
	Use:   "perms",
	Short: "List all permission grants",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(cfg *config.Config, ledger *permission.Ledger, st *store.Store) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SCOPE\tSTATUS\tUPDATED")
			for _, g := range ledger.List() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", g.Scope, g.Status, g.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		})
	},
}

// logCmd shows recent actions
var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show the most recent actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("count")
		cfg, err := config.Load(workspace)
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Storage.DatabasePath)
		if err != nil {
			return err
		}
		defer st.Close()

		entries, err := st.RecentActions(n)
		if err != nil {
			return err
		}
		for _, e := range entries {
			args, _ := json.Marshal(e.Arguments)
			fmt.Printf("%s  %s  %s\n", e.Timestamp.Format(time.RFC3339), e.Action, args)
		}
		return nil
	},
}

// withLedger opens the store and ledger for one offline operation.
func withLedger(fn func(*config.Config, *permission.Ledger, *store.Store) error) error {
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	ledger, err := permission.NewLedger(st)
	if err != nil {
		return err
	}
	return fn(cfg, ledger, st)
}

// sendLine performs one line-oriented request against the agent server.
func sendLine(addr, line string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(5 * time.Minute))
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory holding .familiar/")

	logCmd.Flags().Int("count", 20, "number of entries to show")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(permsCmd)
	rootCmd.AddCommand(logCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
