// Command registry runs the content-addressed blob store service: it
// binds the addresses named in its config file and serves the registry
// protocol (internal/protocol/registry) to the broker, which is the
// configured peer for this service (see DESIGN.md for why the broker, and
// not the invoker, is the one that talks to the registry directly).
// Grounded on original_source/registry/src/main.cpp: a single
// <path_to_config> argument, chdir to the config's directory, bind, and
// shut down cleanly on SIGINT/SIGHUP/SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smolrpc/smolrpc/internal/config"
	"github.com/smolrpc/smolrpc/internal/protocol/broker"
	"github.com/smolrpc/smolrpc/internal/protocol/registry"
	"github.com/smolrpc/smolrpc/internal/registrydemo"
	"github.com/smolrpc/smolrpc/rpcserver"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "registry <path_to_config>",
		Short:        "Run the smolrpc content-addressed registry service",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runRegistry,
	}
	return cmd
}

func runRegistry(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = "data"
	}
	store, err := registrydemo.New(dataDir)
	if err != nil {
		return err
	}

	srv := rpcserver.New(rpcserver.Config{
		OwnProtocol:      registry.Protocol(),
		PeerProtocolName: broker.ProtocolName,
		NewImpl:          registry.NewImpl(store),
		Logger:           log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer stop()

	bindErr := make(chan error, 1)
	go func() { bindErr <- srv.Bind(ctx, cfg.Listen) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if err := srv.Stop(5 * time.Second); err != nil {
			log.Warn("shutdown did not complete cleanly", zap.Error(err))
		}
		return nil
	case err := <-bindErr:
		return err
	}
}
