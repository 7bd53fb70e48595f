// Command invoker connects to a configured broker and keeps a duplex
// connection alive, reconnecting after any disconnect (at once after a
// connection that completed its handshake, with backoff after failures).
// Grounded on original_source/invoker/src/main.cpp: a single
// <path_to_config> argument, chdir to the config's directory, connect, and
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
	"github.com/smolrpc/smolrpc/rpc"
	"github.com/smolrpc/smolrpc/rpcclient"
)

// brokerServiceName must match cmd/broker's registration name.
const brokerServiceName = "smolrpc.broker"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	return &cobra.Command{
		Use:          "invoker <path_to_config>",
		Short:        "Run the smolrpc invoker, connecting to its configured broker",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runInvoker,
	}
}

func runInvoker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	brokerAddr := cfg.Broker
	if brokerAddr == "" {
		if len(cfg.EtcdEndpoints) == 0 {
			return fmt.Errorf("configuration has neither a static broker address nor etcd_endpoints to discover one")
		}
		brokerAddr, err = discoverBroker(cfg.EtcdEndpoints)
		if err != nil {
			return fmt.Errorf("discovering broker via etcd: %w", err)
		}
		log.Info("discovered broker via etcd", zap.String("address", brokerAddr))
	}

	cl := rpcclient.New(rpcclient.Config{
		Address:          brokerAddr,
		OwnProtocol:      invoker.Protocol(),
		PeerProtocolName: broker.ProtocolName,
		NewImpl:          invoker.NewImpl(),
		Logger:           log,
		OnConnected: func(peer *rpc.Endpoint) {
			log.Info("connected to broker")
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM)
	defer stop()

	err = cl.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info("shutting down")
	return nil
}

// discoverBroker looks up the broker's advertised address in etcd. It picks
// the first instance returned; spec.md's broker is a single always-up
// rendezvous point, not a load-balanced set, so there is normally exactly
// one to choose from.
func discoverBroker(endpoints []string) (string, error) {
	reg, err := svcreg.New(endpoints)
	if err != nil {
		return "", err
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	instances, err := reg.Discover(ctx, brokerServiceName)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("no broker instances registered")
	}
	return instances[0].Addr, nil
}
