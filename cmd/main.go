package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ejjays/RN-chatapp/internal/api"
	"github.com/ejjays/RN-chatapp/internal/auth"
	"github.com/ejjays/RN-chatapp/internal/blob"
	"github.com/ejjays/RN-chatapp/internal/config"
	"github.com/ejjays/RN-chatapp/internal/events"
	"github.com/ejjays/RN-chatapp/internal/hub"
	"github.com/ejjays/RN-chatapp/internal/identity"
	"github.com/ejjays/RN-chatapp/internal/logger"
	"github.com/ejjays/RN-chatapp/internal/metrics"
	"github.com/ejjays/RN-chatapp/internal/reconcile"
	"github.com/ejjays/RN-chatapp/internal/repository"
	"github.com/ejjays/RN-chatapp/internal/retry"
	"github.com/ejjays/RN-chatapp/internal/service"
	"github.com/ejjays/RN-chatapp/internal/typing"
)

func main() {
	_ = godotenv.Load() // load .env if present

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logg, err := logger.New(cfg.App.Development())
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logg.Sync() }()

	metrics.Init()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logg.Fatal("store init", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	if s, ok := store.(interface{ SetAppliedKeep(int) }); ok {
		s.SetAppliedKeep(cfg.Chat.AppliedIDsKeep)
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logg.Fatal("redis ping", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	// change hub, relayed across instances through redis pub/sub
	h := hub.New()
	var typingStore typing.Store = typing.NewMemoryStore()
	if rdb != nil {
		typingStore = typing.NewRedisStore(rdb, cfg.Redis.Prefix, cfg.TypingTTL)
		relay := hub.NewRedisRelay(rdb, cfg.Redis.Prefix, logg)
		h.SetRelay(relay, func(err error) { logg.Warn("hub relay send", zap.Error(err)) })
		go func() {
			if err := relay.Run(ctx, h); err != nil && ctx.Err() == nil {
				logg.Error("hub relay stopped", zap.Error(err))
			}
		}()
	}

	var fbClient *fbauth.Client
	if cfg.Auth.Provider == "firebase" || cfg.Identity.Provider == "firebase" {
		fbClient, err = auth.NewFirebaseClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			logg.Fatal("firebase auth init", zap.Error(err))
		}
	}

	var users identity.Directory = identity.NewStoreDirectory(store)
	if cfg.Identity.Provider == "firebase" {
		users = identity.NewFirebaseDirectory(fbClient, logg)
	}
	if rdb != nil && cfg.IdentityTTL > 0 {
		users = identity.NewCachedDirectory(users, rdb, cfg.Redis.Prefix, cfg.IdentityTTL, logg)
	}

	var blobs blob.Store = blob.NewMemoryStore()
	if cfg.S3.Bucket != "" {
		s3, err := blob.NewS3Store(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Endpoint, cfg.S3.PublicRead)
		if err != nil {
			logg.Fatal("s3 init", zap.Error(err))
		}
		blobs = blob.NewBreakerStore(s3, retry.NewBreaker("s3", logg))
	} else {
		logg.Warn("s3.bucket not set; chat images are kept in memory")
	}

	var pub events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		np, err := events.NewNATSPublisher(cfg.NATS.URL, logg)
		if err != nil {
			logg.Warn("nats unavailable; domain events disabled", zap.Error(err))
		} else {
			pub = np
			defer np.Close()
		}
	}

	svc := service.New(service.Deps{
		Store:       store,
		Users:       users,
		TypingStore: typingStore,
		Hub:         h,
		Blobs:       blobs,
		Events:      pub,
		Log:         logg,
	}, service.Options{
		PageSize:      cfg.Chat.PageSize,
		MaxPageSize:   cfg.Chat.MaxPageSize,
		MaxGroupName:  cfg.Chat.MaxGroupName,
		MaxImageBytes: cfg.Chat.MaxImageBytes,
		TypingTTL:     cfg.TypingTTL,
		Retry: retry.Policy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.RetryInterval,
			MaxInterval:     2 * time.Second,
		},
	})
	defer svc.Close()

	// effects reconciler
	if cfg.Kafka.Enabled {
		q := reconcile.NewKafkaQueue(cfg.Kafka.Brokers, cfg.Kafka.TopicEffects, cfg.Kafka.GroupID, svc.ApplyEffects, logg)
		svc.SetEffectsQueue(q)
		go q.Run(ctx)
		defer func() { _ = q.Close() }()
	} else {
		w := reconcile.NewWorker(svc.ApplyEffects, cfg.Retry.Workers, 0, logg)
		w.Start(ctx)
		svc.SetEffectsQueue(w)
		defer w.Stop()
	}

	verifier, err := newVerifier(cfg, fbClient)
	if err != nil {
		logg.Fatal("auth init", zap.Error(err))
	}

	var sendLimiter *api.RateLimiter
	if rdb != nil && cfg.App.SendLimitPerMin > 0 {
		sendLimiter = api.NewRateLimiter(rdb, cfg.Redis.Prefix, cfg.App.SendLimitPerMin, time.Minute, logg)
	}

	app := api.NewServer(ctx, api.Options{
		Service:         svc,
		Verifier:        verifier,
		Log:             logg,
		RateLimitPerMin: cfg.App.RateLimitPerMin,
		SendLimiter:     sendLimiter,
		RequestTimeout:  cfg.StoreTimeout * time.Duration(max(cfg.Retry.MaxAttempts, 1)+1),
		MaxImageBytes:   cfg.Chat.MaxImageBytes,
	})

	go func() {
		if err := app.Listen(":" + cfg.App.PortString()); err != nil {
			logg.Fatal("server listen", zap.Error(err))
		}
	}()
	logg.Info("chat-sync started",
		zap.String("port", cfg.App.PortString()),
		zap.String("store", cfg.Store.Driver),
		zap.Bool("redis", rdb != nil),
		zap.Bool("kafka", cfg.Kafka.Enabled))

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logg.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warn("http shutdown", zap.Error(err))
	}
	stop()
	if err := store.Close(shutdownCtx); err != nil {
		logg.Warn("store close", zap.Error(err))
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	logg.Info("chat-sync stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store.Driver {
	case "mongo":
		client, err := repository.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		return repository.NewMongoRepository(ctx, client, cfg.Mongo.Database, cfg.StoreTimeout)
	case "firestore":
		client, err := repository.NewFirestoreClient(ctx, cfg.Firestore.ProjectID)
		if err != nil {
			return nil, err
		}
		return repository.NewFirestoreRepository(client, cfg.StoreTimeout), nil
	default:
		return repository.NewMemoryRepository(), nil
	}
}

func newVerifier(cfg *config.Config, fbClient *fbauth.Client) (auth.Verifier, error) {
	if cfg.Auth.Provider == "firebase" {
		return auth.NewFirebaseVerifier(fbClient), nil
	}
	return auth.NewJWTValidator(cfg.JWT.Alg, cfg.JWT.PublicKeyPath, cfg.JWT.HSSecret)
}
