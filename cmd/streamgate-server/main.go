package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/supalytics/streamgate/config"
	"github.com/supalytics/streamgate/driver"
	"github.com/supalytics/streamgate/driver/lakehouse"
	"github.com/supalytics/streamgate/driver/relational"
	"github.com/supalytics/streamgate/driver/warehouse"
	"github.com/supalytics/streamgate/logging"
	"github.com/supalytics/streamgate/metastore"
	"github.com/supalytics/streamgate/protocol"
	"github.com/supalytics/streamgate/resolver"
)

func main() {
	var configPath string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "streamgate-server",
		Short: "Streaming query-execution gateway",
		Long: `streamgate-server accepts analytic query requests over a persistent
websocket transport, resolves them against a metadata store and a pluggable
backend driver, and streams the result rows back row by row.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, verbose)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "streamgate.yaml", "path to the gateway's YAML config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrapf(err, "load %s", configPath)
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	logFunc := func(level logging.Level, format string, a ...any) {
		if !verbose && level < logging.Warn {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %s\n", level, fmt.Sprintf(format, a...))
	}

	store, err := buildStore(cfg)
	if err != nil {
		return errors.Wrap(err, "build metadata store")
	}

	registry := driver.NewRegistry()
	relational.Register(registry, logFunc)
	warehouse.Register(registry, logFunc)
	lakehouse.Register(registry, logFunc)

	resolve := func(ctx context.Context, queryID string, templateData map[string]any) (*resolver.Handle, error) {
		return resolver.Resolve(ctx, store, registry, logFunc, queryID, templateData)
	}

	server := protocol.NewServer(
		resolve,
		protocol.WithMaxWorkers(cfg.MaxWorkers),
		protocol.WithQueueCapacity(cfg.QueueCapacity),
		protocol.WithMaxFrameBytes(int64(cfg.MaxFrameBytes)),
		protocol.WithLogFunc(logFunc),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", server.ServeWS)
	mux.HandleFunc("/health", protocol.Health)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSCert != "" {
			logFunc(logging.Info, "listening on %s (tls)", httpServer.Addr)
			err = httpServer.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
		} else {
			logFunc(logging.Info, "listening on %s", httpServer.Addr)
			err = httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	ch := make(chan os.Signal, 32)
	signal.Notify(ch, unix.SIGINT, unix.SIGTERM, unix.SIGQUIT)

	select {
	case err := <-errCh:
		return err
	case <-ch:
		logFunc(logging.Info, "shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func buildStore(cfg *config.Data) (metastore.Store, error) {
	if cfg.DevStorePath != "" {
		return metastore.NewFileStore(cfg.DevStorePath)
	}
	return metastore.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey), nil
}
