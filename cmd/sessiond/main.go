package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-provider-session/aggregator"
	"github.com/jrsteele09/go-provider-session/auth"
	"github.com/jrsteele09/go-provider-session/internal/config"
	"github.com/jrsteele09/go-provider-session/internal/metrics"
	"github.com/jrsteele09/go-provider-session/provider"
	"github.com/jrsteele09/go-provider-session/server"
	"github.com/jrsteele09/go-provider-session/session"
	"github.com/jrsteele09/go-provider-session/session/filestore"
	"github.com/jrsteele09/go-provider-session/session/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error running server: %s\n", err)
	}
	log.Printf("Server stopped\n")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c, err := config.New()
	if err != nil {
		return fmt.Errorf("config.New: %w", err)
	}
	setupLogging(c)
	displayAppname(c.GetAppName())

	ctx := context.Background()

	store, closeStore, err := newStore(ctx, c)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("metrics.New: %w", err)
	}

	binder := provider.NewBinder()
	primary, fallback, err := newChannels(c, binder)
	if err != nil {
		return err
	}

	orch, err := auth.NewOrchestrator(auth.Deps{
		Primary:  primary,
		Fallback: fallback,
		Binder:   binder,
		Store:    store,
	},
		auth.WithLogger(zlog.Logger.With().Str("component", "orchestrator").Logger()),
		auth.WithRecorder(recorder),
		auth.WithTimeouts(c.GetPrimaryTimeout(), c.GetFallbackTimeout()),
	)
	if err != nil {
		return fmt.Errorf("auth.NewOrchestrator: %w", err)
	}
	defer orch.Close()

	if restored, err := orch.Restore(ctx); err != nil {
		zlog.Err(err).Msg("could not restore persisted session")
	} else if restored {
		zlog.Info().Msg("restoring persisted session")
	}

	handler, err := server.New(c, orch, server.WithMetrics(reg))
	if err != nil {
		return fmt.Errorf("server.New: %w", err)
	}

	httpServer := &http.Server{
		Addr:              c.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := listenAndServe(httpServer); err != nil {
			zlog.Err(err).Msg("listener stopped")
		}
	}()
	waitForStopSignal()
	returnError = shutdown(httpServer)
	drain(orch)
	return returnError
}

// drain lets an in-flight attempt finish, so its outcome is persisted, before Close cancels it.
func drain(orch *auth.Orchestrator) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := orch.Wait(ctx); err != nil {
		zlog.Warn().Err(err).Msg("authentication attempt still in flight at shutdown")
	}
	orch.Close()
}

func setupLogging(c config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.GetLogLevel()))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if c.IsDev() {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func newStore(ctx context.Context, c config.Config) (session.Store, func(), error) {
	nop := func() {}

	switch c.GetStoreBackend() {
	case config.StoreFile:
		var options []filestore.Option
		if c.GetStoreSealKey() != "" {
			key, err := filestore.ParseSealKey(c.GetStoreSealKey())
			if err != nil {
				return nil, nop, fmt.Errorf("filestore.ParseSealKey: %w", err)
			}
			options = append(options, filestore.WithSealKey(key))
		}
		store, err := filestore.New(c.GetStoreFile(), options...)
		if err != nil {
			return nil, nop, fmt.Errorf("filestore.New: %w", err)
		}
		zlog.Info().Str("path", c.GetStoreFile()).Bool("sealed", len(options) > 0).Msg("using file session store")
		return store, nop, nil

	case config.StoreRedis:
		client, err := redisstore.Connect(ctx, redisstore.ConnectConfig{
			URL:            c.GetRedisURL(),
			ConnectTimeout: 10 * time.Second,
			RetryAttempts:  5,
			RetryInterval:  time.Second,
		})
		if err != nil {
			return nil, nop, fmt.Errorf("redisstore.Connect: %w", err)
		}
		store, err := redisstore.New(client, c.GetRedisPrefix(), redisstore.WithTTL(c.GetRedisTTL()))
		if err != nil {
			_ = client.Close()
			return nil, nop, fmt.Errorf("redisstore.New: %w", err)
		}
		zlog.Info().Str("key", store.Key()).Msg("using redis session store")
		return store, func() { _ = client.Close() }, nil
	}

	zlog.Warn().Msg("using in-memory session store, sessions will not survive a restart")
	return session.NewInMemoryStore(), nop, nil
}

func newChannels(c config.Config, binder *provider.Binder) (auth.PrimaryChannel, auth.FallbackChannel, error) {
	var options []aggregator.Option
	if c.GetStrictStatusPolicy() {
		options = append(options, aggregator.WithStatusPolicy(aggregator.StrictStatusPolicy))
	}
	primary, err := aggregator.New(c.GetAggregatorURL(), options...)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregator.New: %w", err)
	}

	if issuer := c.GetOIDCIssuerURL(); issuer != "" {
		fallback, err := provider.NewOIDCUserInfoChannel(issuer, binder)
		if err != nil {
			return nil, nil, fmt.Errorf("provider.NewOIDCUserInfoChannel: %w", err)
		}
		return primary, fallback, nil
	}

	fallback, err := provider.NewUserChannel(c.GetProviderAPIURL(), binder)
	if err != nil {
		return nil, nil, fmt.Errorf("provider.NewUserChannel: %w", err)
	}
	return primary, fallback, nil
}

func listenAndServe(server *http.Server) error {
	log.Printf("Server listening on %s\n", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
