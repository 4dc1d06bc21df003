package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/layer-3/dair/adapters/events"
	"github.com/layer-3/dair/adapters/signature"
	"github.com/layer-3/dair/adapters/store"
	"github.com/layer-3/dair/adapters/tokenizer"
	"github.com/layer-3/dair/config"
	"github.com/layer-3/dair/coordinator"
	"github.com/layer-3/dair/logging"
	"github.com/layer-3/dair/ports"
	"github.com/layer-3/dair/service"
	transport "github.com/layer-3/dair/transport/http"
	"github.com/layer-3/dair/transport/ws"
)

// dairMain is the real entry point; defers do not run across os.Exit.
func dairMain() error {
	cfg, err := config.ParseFlags(config.DefaultConfig(), os.Args[1:])
	if err != nil {
		return err
	}

	logLevel := zap.InfoLevel
	if cfg.DebugLog {
		logLevel = zap.DebugLevel
	}
	logger := logging.New(logLevel, cfg.LogFile, cfg.JSONLog)
	defer func() {
		logger.Info("shutdown complete")
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.NewContext(ctx, logger)

	signKey, err := loadSigningKey(cfg.SigningKey)
	if err != nil {
		return err
	}
	if cfg.SigningKey == "" {
		logger.Warn("no signing key configured, tokens will not survive a restart")
	}

	var (
		revocations    ports.RevocationStore
		placeStore     ports.PlaceStore
		challengeStore ports.ChallengeStore
		publisher      message.Publisher
	)
	wmLogger := watermill.NewStdLogger(cfg.DebugLog, false)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to reach Redis: %w", err)
		}

		publisher, err = redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		revocations = store.NewRedisRevocations(redisClient)
		placeStore = store.NewRedisPlaces(redisClient)
		challengeStore = store.NewRedisChallenges(redisClient)
		logger.Info("using redis storage", zap.String("addr", opts.Addr))
	} else {
		publisher = gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		revocations = store.NewMemoryRevocations()
		placeStore = store.NewMemoryPlaces()
		challengeStore = store.NewMemoryChallenges()
		logger.Info("using in-memory storage")
	}
	defer publisher.Close()

	verifier := signature.NewEd25519()
	eventPub := events.NewWatermillPublisher(publisher)

	coord, err := coordinator.New(coordinator.Config{
		JobTimeout:         cfg.Coordinator.JobTimeout,
		SweepInterval:      cfg.Coordinator.SweepInterval,
		StoreTimeout:       cfg.Coordinator.StoreTimeout,
		ChallengeCacheSize: cfg.Coordinator.ChallengeCacheSize,
	}, verifier, placeStore, challengeStore, eventPub, logger)
	if err != nil {
		return fmt.Errorf("failed to create coordinator: %w", err)
	}

	authService := service.NewAuthService(
		tokenizer.NewJWTTokenizer(signKey),
		revocations,
		eventPub,
		verifier,
		logger,
		cfg.SigninReplayWindow,
	)
	placeService := service.NewPlaceService(placeStore, coord, logger)
	wsHandler := ws.NewHandler(ctx, ws.Config{
		SendQueue:      cfg.Socket.SendQueue,
		MessageRate:    cfg.Socket.MessageRate,
		MessageBurst:   cfg.Socket.MessageBurst,
		MaxMessageSize: cfg.Socket.MaxMessageSize,
	}, coord, logger)

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           transport.SetupRouter(authService, placeService, wsHandler, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Listen))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return coord.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadSigningKey reads a PEM encoded P-256 key, or generates a fresh one.
func loadSigningKey(path string) (*ecdsa.PrivateKey, error) {
	if path == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signing key %s is not PEM encoded", path)
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	return key, nil
}

func main() {
	if err := dairMain(); err != nil {
		var flagsErr *flags.Error
		if !errors.As(err, &flagsErr) || flagsErr.Type != flags.ErrHelp {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
