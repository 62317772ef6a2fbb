package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Dominik1799/zm-mailbox/config"
	"github.com/Dominik1799/zm-mailbox/internal/mailbox"
	"github.com/Dominik1799/zm-mailbox/internal/notify"
	"github.com/Dominik1799/zm-mailbox/internal/observability"
	"github.com/Dominik1799/zm-mailbox/internal/redisconn"
	"github.com/Dominik1799/zm-mailbox/internal/retry"
)

// NotifyFactory is the process-wide handle the mailbox engine and the
// protocol layers use to subscribe mailboxes. Set once by Start.
var NotifyFactory *notify.Factory

func printConfiguration() {
	slog.Info("starting zm-mailbox", slog.String("version", config.Version))
	slog.Info("running with", slog.String("node_id", config.Config.NodeID))
	slog.Info("running with", slog.String("notify_backend", config.Config.NotifyBackend))
	slog.Info("running with", slog.Int("notify_channels", config.Config.NotifyNumChannels))
	slog.Info("running on", slog.Int("cores", runtime.NumCPU()))
}

func printBanner() {
	fmt.Print(`

███████╗███╗   ███╗     ███╗   ███╗ █████╗ ██╗██╗     ██████╗  ██████╗ ██╗  ██╗
╚══███╔╝████╗ ████║     ████╗ ████║██╔══██╗██║██║     ██╔══██╗██╔═══██╗╚██╗██╔╝
  ███╔╝ ██╔████╔██║ ███ ██╔████╔██║███████║██║██║     ██████╔╝██║   ██║ ╚███╔╝
 ███╔╝  ██║╚██╔╝██║     ██║╚██╔╝██║██╔══██║██║██║     ██╔══██╗██║   ██║ ██╔██╗
███████╗██║ ╚═╝ ██║     ██║ ╚═╝ ██║██║  ██║██║███████╗██████╔╝╚██████╔╝██╔╝ ██╗
╚══════╝╚═╝     ╚═╝     ╚═╝     ╚═╝╚═╝  ╚═╝╚═╝╚══════╝╚═════╝  ╚═════╝ ╚═╝  ╚═╝

`)
}

// Start wires the notification fabric and the admin endpoint, then blocks
// until the process is signalled. The mailbox engine and protocol layers
// attach to the fabric through the notify.Factory built here.
func Start() {
	printBanner()
	printConfiguration()

	backend, err := notify.ParseBackend(config.Config.NotifyBackend)
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

	serverErrCh := make(chan error, 1)

	var (
		client     *redisconn.Client
		registry   *notify.Registry
		dispatcher *notify.Dispatcher
	)
	if backend == notify.BackendRedis {
		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		client, err = redisconn.Dial(dialCtx, redisOptions())
		dialCancel()
		if err != nil {
			slog.Error("could not reach redis", slog.Any("error", err))
			os.Exit(1)
		}
		exec := redisconn.NewExecutor(client, retryPolicy(), redisconn.NewTracker())
		observability.RegisterCustomCollector(func() []string {
			return observability.RedisTrackerLines(exec.Stats().Snapshot)
		})
		dispatcher = notify.NewDispatcher(
			config.Config.NotifyDispatchWorkers,
			config.Config.NotifyDispatchQueueSize,
		)
		transport := notify.NewRedisTransport(client, exec, retryPolicy())
		registry = notify.NewRegistry(transport, dispatcher, config.Config.NotifyNumChannels)
	}

	factory, err := notify.NewFactory(backend, registry, mailbox.JSONCodec{})
	if err != nil {
		slog.Error("could not build notification fabric", slog.Any("error", err))
		os.Exit(1)
	}
	// The mailbox engine subscribes loaded mailboxes through this factory.
	NotifyFactory = factory
	slog.Info("notification fabric ready")

	mux := http.NewServeMux()
	observability.SetupPrometheus(mux)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Config.Host, config.Config.Port),
		Handler: mux,
	}
	go func() {
		slog.Info("admin endpoint listening", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	select {
	case sig := <-sigs:
		slog.Info("received signal, shutting down", slog.String("signal", sig.String()))
	case err := <-serverErrCh:
		slog.Error("admin endpoint failed", slog.Any("error", err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	cancel()
	// Listener goroutines must be down before the shared client closes, or
	// they would observe the closed client and try to recover it.
	if registry != nil {
		registry.Stop()
	}
	if dispatcher != nil {
		dispatcher.Stop()
	}
	if client != nil {
		_ = client.Close()
	}
	slog.Info("shutdown complete")
}

func redisOptions() redisconn.Options {
	c := config.Config
	return redisconn.Options{
		Addr:                c.RedisAddr,
		Password:            c.RedisPassword,
		DB:                  c.RedisDB,
		PoolSize:            c.RedisPoolSize,
		DialTimeout:         time.Duration(c.RedisDialTimeoutMillis) * time.Millisecond,
		ReadTimeout:         time.Duration(c.RedisReadTimeoutMillis) * time.Millisecond,
		WriteTimeout:        time.Duration(c.RedisWriteTimeoutMillis) * time.Millisecond,
		ClusterPollInterval: time.Duration(c.RedisClusterPollMillis) * time.Millisecond,
	}
}

func retryPolicy() retry.Policy {
	c := config.Config
	p := retry.DefaultPolicy()
	if c.RedisRetryMaxAttempts > 0 {
		p.MaxRetries = uint64(c.RedisRetryMaxAttempts)
	}
	if c.RedisRetryInitialBackoffMillis > 0 {
		p.InitialInterval = time.Duration(c.RedisRetryInitialBackoffMillis) * time.Millisecond
	}
	if c.RedisRetryMaxBackoffMillis > 0 {
		p.MaxInterval = time.Duration(c.RedisRetryMaxBackoffMillis) * time.Millisecond
	}
	return p
}
