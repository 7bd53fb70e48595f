// Command broker runs the always-up rendezvous service invokers dial
// into. Grounded on original_source/broker/src/main.cpp: a single
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
	"github.com/smolrpc/smolrpc/internal/protocol/invoker"
	"github.com/smolrpc/smolrpc/internal/svcreg"
	"github.com/smolrpc/smolrpc/rpcserver"
)

// serviceName is the key invokers discover the broker under in etcd, when
// configured for discovery rather than a static broker address.
const serviceName = "smolrpc.broker"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "broker <path_to_config>",
		Short:        "Run the smolrpc broker service",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runBroker,
	}
}

func runBroker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	srv := rpcserver.New(rpcserver.Config{
		OwnProtocol:      broker.Protocol(),
		PeerProtocolName: invoker.ProtocolName,
		NewImpl:          broker.NewImpl(),
		Logger:           log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer stop()

	var reg *svcreg.Registry
	if len(cfg.EtcdEndpoints) > 0 && len(cfg.Listen) > 0 {
		reg, err = svcreg.New(cfg.EtcdEndpoints)
		if err != nil {
			return err
		}
		defer reg.Close()
		if err := reg.Register(ctx, serviceName, svcreg.Instance{Addr: cfg.Listen[0]}, 10); err != nil {
			return fmt.Errorf("registering with etcd: %w", err)
		}
		log.Info("registered with etcd", zap.Strings("endpoints", cfg.EtcdEndpoints))
	}

	bindErr := make(chan error, 1)
	go func() { bindErr <- srv.Bind(ctx, cfg.Listen) }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		if reg != nil {
			if err := reg.Deregister(context.Background(), serviceName, cfg.Listen[0]); err != nil {
				log.Warn("deregistering from etcd", zap.Error(err))
			}
		}
		if err := srv.Stop(5 * time.Second); err != nil {
			log.Warn("shutdown did not complete cleanly", zap.Error(err))
		}
		return nil
	case err := <-bindErr:
		return err
	}
}
