// orchestro is an MCP stdio server that gives coding assistants a persistent
// task, dependency, and learning store for a workspace.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"orchestro/internal/config"
	"orchestro/internal/logging"
	"orchestro/internal/server"
	"orchestro/internal/store"
)

var (
	workspace string
	debugMode bool
)

var rootCmd = &cobra.Command{
	Use:   "orchestro",
	Short: "Task orchestration MCP server for AI coding assistants",
	Long: `orchestro is an MCP server speaking over stdio. It keeps a workspace's
tasks, user stories, dependency graph, and execution learnings in a local
SQLite database, and guides the calling assistant through a fixed
analyze-then-implement workflow.

Run without arguments to serve; register the binary as an MCP stdio server
in your assistant's configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve MCP over stdio (the default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "orchestro", server.Version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the .orchestro directory with a default config",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		dir := filepath.Join(ws, ".orchestro")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
		path := filepath.Join(dir, "config.json")
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
			return nil
		}
		if err := config.Write(config.Default(ws), path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "initialized %s\n", path)
		return nil
	},
}

func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return config.FindWorkspaceRoot()
}

func serve(cmd *cobra.Command) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return fmt.Errorf("failed to resolve workspace: %w", err)
	}

	cfg, err := config.Load(ws)
	if err != nil {
		return err
	}
	if debugMode {
		cfg.Logging.DebugMode = true
	}

	if err := logging.Initialize(ws, logging.Options{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return err
	}
	defer logging.Shutdown()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := server.New(cfg, st)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return srv.Serve(ctx)
}

func main() {
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace root (default: walk up to the nearest .orchestro)")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable file logging regardless of config")
	rootCmd.AddCommand(serveCmd, versionCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		// stdout belongs to the MCP transport
		fmt.Fprintln(os.Stderr, "orchestro:", err)
		os.Exit(1)
	}
}
