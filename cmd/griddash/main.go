// Command griddash runs the dashboard sync service and manages tables
// from the terminal.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/griddash/griddash/internal/config"
	"github.com/griddash/griddash/internal/gridsync"
	"github.com/griddash/griddash/internal/sheet"
	"github.com/griddash/griddash/internal/sidestore"
	"github.com/griddash/griddash/internal/store"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "griddash",
	Short: "CRUD dashboard with bidirectional spreadsheet sync",
	Long: `griddash keeps user-defined tables and an external spreadsheet
convergent: sheet-bound columns are mirrored both ways, dashboard-only
columns live in a local side store, and row changes are broadcast to
table subscribers over WebSocket.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: defaults + GRIDDASH_* env)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(tableCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env bundles everything a command needs to operate on local state.
type env struct {
	cfg   *config.Config
	store *store.Store
	side  *sidestore.Store
	orch  *gridsync.Orchestrator
}

// buildEnv opens the stores and wires the orchestrator. notifier may be
// nil for one-shot commands.
func buildEnv(cfg *config.Config, notifier gridsync.Notifier) (*env, error) {
	var logW io.Writer = os.Stderr
	if cfg.LogFile != "" {
		logW = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, err
	}

	side, err := sidestore.Open(cfg.SideStorePath(), newLogger(logW, "[sidestore] "))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	svc, err := sheet.NewWorkbookService(cfg.WorkbookPath())
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	adapter := sheet.New(svc, newLogger(logW, "[sheet] "))

	orchCfg := &gridsync.Config{
		SweepInterval: cfg.SweepInterval,
		RemoteTimeout: cfg.RemoteTimeout,
		Logger:        newLogger(logW, "[sync] "),
	}
	orch := gridsync.New(st, side, adapter, notifier, orchCfg)

	return &env{cfg: cfg, store: st, side: side, orch: orch}, nil
}

// openEnv loads configuration and builds the environment in one step.
func openEnv(notifier gridsync.Notifier) (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return buildEnv(cfg, notifier)
}

func (e *env) close() {
	if err := e.side.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing side store: %v\n", err)
	}
	if err := e.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing store: %v\n", err)
	}
}

func newLogger(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, log.LstdFlags)
}
