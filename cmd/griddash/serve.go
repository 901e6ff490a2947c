package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/griddash/griddash/internal/config"
	"github.com/griddash/griddash/internal/hub"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync sweep and WebSocket hub",
	Long: `Run the griddash service: the periodic sync sweep reconciles every
linked table with its spreadsheet, and the WebSocket hub broadcasts
tableUpdated / syncError events to subscribers.

Clients join a table's channel by sending:
  {"action": "join", "tableId": "tbl-..."}

Example usage:
  griddash serve                 # hub on default port 8080
  griddash serve --port 9000     # custom port`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		hubCfg := hub.DefaultConfig()
		hubCfg.Port = cfg.Port
		if servePort != 0 {
			hubCfg.Port = servePort
		}
		server := hub.NewServer(hubCfg)

		e, err := buildEnv(cfg, server)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer e.close()

		if err := server.Start(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting hub: %v\n", err)
			os.Exit(1)
		}

		if err := e.side.Watch(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: side store watcher unavailable: %v\n", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		go e.orch.Run(ctx)

		fmt.Printf("griddash serving on %s (sweep every %s)\n", server.GetAddr(), cfg.SweepInterval)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		cancel()
		e.orch.WaitUntilIdle(10 * time.Second)

		if err := server.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Error stopping hub: %v\n", err)
		}
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "hub listen port (overrides config)")
}
