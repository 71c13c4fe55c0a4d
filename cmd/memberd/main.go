package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dogmatiq/ferrite"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danl5/gomember"
	"github.com/danl5/gomember/internal/telemetry"
	"github.com/danl5/gomember/pkg/lockspace"
	"github.com/danl5/gomember/pkg/log"
	"github.com/danl5/gomember/pkg/model"
	"github.com/danl5/gomember/pkg/registry/configfs"
	regmemory "github.com/danl5/gomember/pkg/registry/memory"
	"github.com/danl5/gomember/pkg/transport/etcd"
	"github.com/danl5/gomember/pkg/transport/memory"
	"github.com/danl5/gomember/pkg/transport/rpc"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	ferrite.Init()

	logger := log.New(os.Stderr, logLevel.Value())
	log.SetDefault(logger)
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("memberd starting", "version", version, "transport", transport.Value(), "registry", registryKind.Value())
	if err := run(ctx, logger); err != nil {
		log.Error("memberd exited", "error", err.Error())
		os.Exit(1)
	}
	log.Info("memberd stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	local := localNode()

	connector, err := newConnector(local, logger)
	if err != nil {
		return err
	}
	registry, lockspaces, err := newRegistry(logger)
	if err != nil {
		return err
	}

	prefix, ok := exemptPrefix.Value()
	if !ok {
		log.Warn("no exempt prefix, every lock space blocks a cluster shutdown")
	}
	member, err := gomember.NewMember(connector, registry, lockspaces, &gomember.MemberConfig{
		MaxNodes:     maxNodes.Value(),
		ExemptPrefix: prefix,
	}, logger)
	if err != nil {
		return err
	}

	if _, err := member.Setup(ctx); err != nil {
		return err
	}
	defer func() {
		if err := member.Close(); err != nil {
			logger.Error("failed to close member", "error", err.Error())
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	server := &http.Server{
		Addr:              metricsAddr.Value(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics server started", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return member.Run(ctx)
	})

	return g.Wait()
}

func localNode() model.Node {
	n := model.Node{
		ID:     nodeID.Value(),
		Member: true,
	}
	if name, ok := nodeName.Value(); ok {
		n.Name = name
	}
	if addr, ok := nodeAddr.Value(); ok {
		ip := net.ParseIP(addr)
		if ip4 := ip.To4(); ip4 != nil {
			ip = ip4
		}
		n.Address = ip
	}
	return n
}

func newConnector(local model.Node, logger *slog.Logger) (model.Connector, error) {
	log.Debug("local node", "node", local.ID, "name", local.Name)
	switch transport.Value() {
	case "etcd":
		zapCfg := zap.NewProductionConfig()
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
		clientLogger, err := zapCfg.Build()
		if err != nil {
			return nil, err
		}
		return etcd.NewConnector(&etcd.Config{
			Endpoints:    splitList(etcdEndpoints.Value()),
			Prefix:       etcdPrefix.Value(),
			Node:         local,
			ClientLogger: clientLogger,
		}, logger)
	case "rpc":
		return rpc.NewConnector(rpcAddr.Value(), &rpc.Config{ConnectTimeout: 5}, logger)
	default:
		// a single node cluster made of this host
		svc := memory.NewService(local.ID)
		svc.SetNodes(local)
		return svc, nil
	}
}

func newRegistry(logger *slog.Logger) (model.ResourceRegistry, model.LockSpaces, error) {
	switch registryKind.Value() {
	case "memory":
		return regmemory.New(), lockspace.NewSet(), nil
	default:
		root := configfsRoot.Value()
		r, err := configfs.New(root, logger)
		if err != nil {
			return nil, nil, err
		}
		return r, lockspace.Dir{Path: filepath.Join(root, "spaces")}, nil
	}
}
