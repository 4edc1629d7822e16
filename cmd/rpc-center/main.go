// Command rpc-center runs a service center: it serves the greeter demo
// service, accepts peers over TCP and WebSocket, dials the providers of the
// configured services and exposes an admin HTTP endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rpc-center/center"
	"rpc-center/client"
	"rpc-center/codec"
	"rpc-center/config"
	"rpc-center/loadbalance"
	"rpc-center/metrics"
	"rpc-center/middleware"
	"rpc-center/registry"
	"rpc-center/server"
	"rpc-center/transport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *showVersion {
		fmt.Println("rpc-center", version)
		return
	}

	// a missing .env is fine; the environment may be set by other means
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rpc-center:", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rpc-center:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		os.Exit(failed(logger, stop, err))
	}
	logger.Info("rpc-center stopped")
}

// failed logs err and releases the signal handler and log buffers, which
// os.Exit would otherwise skip. It returns the exit code.
func failed(logger *zap.Logger, stop context.CancelFunc, err error) int {
	logger.Error("rpc-center failed", zap.Error(err))
	stop()
	_ = logger.Sync()
	return 1
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	reg, closeRegistry, err := newRegistry(cfg.Registry, logger)
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	c := center.NewCenter(centerOptions(cfg, logger, reg, m)...)
	if err := serveGreeter(ctx, c, logger); err != nil {
		return err
	}

	ct, err := codec.ParseCodecType(cfg.Server.Codec)
	if err != nil {
		return err
	}
	connOpts := []transport.Option{
		transport.WithCodec(ct),
		transport.WithHeartbeat(cfg.Server.Heartbeat),
		transport.WithLogger(logger),
	}

	srv := server.NewServer(c, server.WithLogger(logger), server.WithConnectionOptions(connOpts...))
	connector := client.NewConnector(c, reg,
		client.WithLogger(logger),
		client.WithConnectionOptions(connOpts...),
		client.WithDialTimeout(cfg.Client.DialTimeout),
		client.WithRetry(cfg.Client.MaxRetries, cfg.Client.RetryInterval),
	)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.Listen != "" {
		g.Go(func() error { return srv.Serve("tcp", cfg.Server.Listen) })
	}

	var admin *http.Server
	if cfg.Admin.Listen != "" {
		admin = &http.Server{
			Addr:              cfg.Admin.Listen,
			Handler:           newAdminRouter(c, connector, srv, cfg.Server.WebSocketPath, promReg, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("admin listening", zap.String("addr", cfg.Admin.Listen))
			if err := admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	if len(cfg.Client.Connect) > 0 {
		if err := connector.Connect(gctx, cfg.Client.Connect...); err != nil {
			logger.Warn("initial discovery failed", zap.Error(err))
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		err := connector.Close()
		err = multierr.Append(err, srv.Shutdown(cfg.Server.ShutdownTimeout))
		if admin != nil {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			err = multierr.Append(err, admin.Shutdown(sctx))
			cancel()
		}
		return multierr.Append(err, closeRegistry())
	})
	return g.Wait()
}

func centerOptions(cfg config.Config, logger *zap.Logger, reg registry.Registry, m *metrics.Metrics) []center.Option {
	opts := []center.Option{
		center.WithID(cfg.Center.ID),
		center.WithLogger(logger),
		center.WithRegistry(reg),
		center.WithRegistryTTL(cfg.Registry.TTL),
		center.WithAdvertiseAddr(cfg.AdvertiseAddr()),
		center.WithWeight(cfg.Center.Weight),
		center.WithVersion(cfg.Center.Version),
		center.WithBalancer(loadbalance.New(cfg.Center.Balancer)),
		center.WithMetrics(m),
		center.WithMiddleware(middleware.LoggingMiddleware(logger)),
	}

	mw := cfg.Middleware
	if mw.GlobalRateLimit > 0 {
		opts = append(opts, center.WithMiddleware(middleware.RateLimitMiddleware(mw.GlobalRateLimit, max(mw.Burst, 1))))
	}
	if mw.RateLimit > 0 {
		opts = append(opts, center.WithMiddleware(middleware.MethodRateLimitMiddleware(mw.RateLimit, mw.Burst)))
	}
	if mw.Timeout > 0 {
		opts = append(opts, center.WithMiddleware(middleware.TimeOutMiddleware(mw.Timeout)))
		// retries wrap a per-attempt timeout
		var out []middleware.Middleware
		if mw.Retries > 0 {
			out = append(out, middleware.RetryMiddleware(mw.Retries, 50*time.Millisecond))
		}
		out = append(out, middleware.TimeOutMiddleware(mw.Timeout))
		opts = append(opts, center.WithOutboundMiddleware(out...))
	}
	return opts
}

func newRegistry(cfg config.RegistryConfig, logger *zap.Logger) (registry.Registry, func() error, error) {
	if cfg.Kind == config.RegistryEtcd {
		reg, err := registry.NewEtcdRegistry(cfg.Endpoints, cfg.DialTimeout, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect etcd: %w", err)
		}
		return reg, reg.Close, nil
	}
	return registry.NewMemoryRegistry(), func() error { return nil }, nil
}
