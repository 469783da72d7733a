package commands

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/hubrun/am"
	"github.com/teranos/hubrun/errors"
	"github.com/teranos/hubrun/logger"
	"github.com/teranos/hubrun/server"
	"github.com/teranos/hubrun/sym"
	"github.com/teranos/hubrun/version"
)

// ServeCmd serves the batch engine over HTTP
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   sym.Hub + " Serve the batch engine over HTTP and websocket",
	Long: sym.Hub + ` serve — HTTP API for starting, watching, cancelling and retrying batches

Routes:
  GET  /health
  POST /api/batches                  {"job_file": "..."} or {"jobs": {...}}
  GET  /api/batches/current
  POST /api/batches/current/cancel
  POST /api/batches/current/retry    {"indices": [..]} (optional)
  GET  /api/runs, /api/runs/{id}
  GET  /api/balance
  GET  /api/status
  GET  /ws/events                    websocket stream of batch events

Config file changes (credentials, budget limits) apply to the next batch.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	servePort int
	serveBind string
)

func init() {
	ServeCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port (overrides server.port)")
	ServeCmd.Flags().StringVar(&serveBind, "bind", "", "Bind address (overrides server.bind_address)")
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")
	if verbosity == 0 {
		// Default to Info for the server
		logger.SetVerbosity(1)
	}

	r, closeDB, err := newRunner(nil)
	if err != nil {
		return err
	}
	defer closeDB()

	cfg := r.Config()
	port := cfg.Server.Port
	if servePort != 0 {
		port = servePort
	}
	bind := cfg.Server.BindAddress
	if serveBind != "" {
		bind = serveBind
	}

	var opts []server.Option
	if path := am.WatchPath(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			pterm.Warning.Printf("Config hot reload disabled: %v\n", err)
		} else {
			am.SetGlobalWatcher(watcher)
			opts = append(opts, server.WithConfigWatcher(watcher))
		}
	}

	srv := server.New(r, opts...)

	info := version.Get()
	pterm.DefaultSection.Printf("%s hubrun %s (%s)\n", sym.Hub, info.Version, info.Short())
	pterm.Info.Printf("Listening on http://%s:%d\n", bind, port)
	pterm.Info.Printf("Credentials: %d, database: %s\n", len(cfg.EffectiveCredentials()), am.ExpandPath(cfg.Database.Path))

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(bind, port)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return errors.Wrap(err, "server stopped")
	case <-sigChan:
		pterm.Info.Println("\nShutting down gracefully (press Ctrl+C again to force)...")

		shutdownDone := make(chan error, 1)
		go func() {
			shutdownDone <- srv.Stop()
		}()

		select {
		case err := <-shutdownDone:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "shutdown error")
			}
			pterm.Success.Println("Server stopped cleanly")
			return nil
		case <-sigChan:
			pterm.Warning.Println("\nForce shutdown - exiting immediately")
			os.Exit(1)
			return nil // unreachable
		}
	}
}
