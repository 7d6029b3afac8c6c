package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pmgate/pmgate/admission"
	"github.com/pmgate/pmgate/admission/countstore"
	"github.com/pmgate/pmgate/admission/settingstore"
	"github.com/pmgate/pmgate/admission/whitelist"
	"github.com/pmgate/pmgate/platform"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

type Server struct {
	updatesHost string
	adminToken  string
	logger      *slog.Logger
	db          *gorm.DB
	engine      *admission.Engine
	rdb         *redis.Client
	lastSeq     int64
}

type Config struct {
	UpdatesHost           string
	GatewayHost           string
	GatewayToken          string
	GatewayRateLimit      int
	AdminToken            string
	RedisURL              string
	SlackWebhookURL       string
	ChallengeText         string
	SuccessText           string
	ChallengeTimeout      time.Duration
	DestructiveDailyQuota int64
	FailClosed            bool
	Logger                *slog.Logger
}

func NewServer(db *gorm.DB, config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	updatesws := config.UpdatesHost
	if !strings.HasPrefix(updatesws, "ws") {
		return nil, fmt.Errorf("specified updates host must include 'ws://' or 'wss://'")
	}

	gateway := platform.NewGateway(config.GatewayHost, config.GatewayToken)
	if config.GatewayRateLimit > 0 {
		gateway.Limiter = rate.NewLimiter(rate.Limit(config.GatewayRateLimit), config.GatewayRateLimit)
	}
	client := platform.NewCachingClassifier(gateway, 5_000, 30*time.Minute)

	whitelistStore, err := whitelist.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing whitelist store: %w", err)
	}
	settingStore, err := settingstore.NewGormStore(db)
	if err != nil {
		return nil, fmt.Errorf("initializing setting store: %w", err)
	}

	var counters countstore.CountStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		// generic client, for cursor state
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		cnt, err := countstore.NewRedisCountStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %v", err)
		}
		counters = cnt
	} else {
		counters = countstore.NewMemCountStore()
	}

	base := admission.DefaultSettings()
	if config.ChallengeText != "" {
		base.ChallengeText = config.ChallengeText
	}
	if config.SuccessText != "" {
		base.SuccessText = config.SuccessText
	}
	if config.ChallengeTimeout > 0 {
		base.ChallengeTimeout = config.ChallengeTimeout
	}
	settings, err := admission.LoadSettings(context.TODO(), settingStore, base)
	if err != nil {
		return nil, fmt.Errorf("loading persisted settings: %w", err)
	}

	var policy admission.UncertaintyPolicy
	if config.FailClosed {
		policy = admission.FailClosed
	}
	var notifier *admission.WebhookNotifier
	if config.SlackWebhookURL != "" {
		notifier = admission.NewWebhookNotifier(config.SlackWebhookURL)
	}

	engine, err := admission.NewEngine(client, whitelistStore, &admission.EngineConfig{
		Logger:                logger,
		Counters:              counters,
		SettingStore:          settingStore,
		Policy:                policy,
		Notifier:              notifier,
		Settings:              &settings,
		DestructiveDailyQuota: config.DestructiveDailyQuota,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing admission engine: %w", err)
	}

	s := &Server{
		updatesHost: config.UpdatesHost,
		adminToken:  config.AdminToken,
		logger:      logger,
		db:          db,
		engine:      engine,
		rdb:         rdb,
	}

	return s, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

var cursorKey = "porter/seq"

// ReadLastCursor fetches the stream position a previous run left in redis,
// so a restart resumes instead of replaying or skipping updates. Without
// redis the daemon just starts from the live tail.
func (s *Server) ReadLastCursor(ctx context.Context) (int64, error) {
	if s.rdb == nil {
		s.logger.Info("redis not configured, skipping cursor read")
		return 0, nil
	}

	val, err := s.rdb.Get(ctx, cursorKey).Int64()
	if err == redis.Nil {
		s.logger.Info("no stored stream cursor in redis")
		return 0, nil
	}
	s.logger.Info("resuming from stored stream cursor", "seq", val)
	return val, err
}

// PersistCursor writes the most recently processed update sequence to redis.
// A zero cursor (nothing processed yet) is never written.
func (s *Server) PersistCursor(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	lastSeq := atomic.LoadInt64(&s.lastSeq)
	if lastSeq <= 0 {
		return nil
	}
	return s.rdb.Set(ctx, cursorKey, lastSeq, 14*24*time.Hour).Err()
}

// RunPersistCursor checkpoints the cursor every few seconds until ctx is
// done, then writes one final checkpoint. Run it in a goroutine.
func (s *Server) RunPersistCursor(ctx context.Context) error {
	if s.rdb == nil {
		return nil
	}
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.PersistCursor(context.Background()); err != nil {
				s.logger.Error("failed to persist final cursor", "err", err)
			}
			return nil
		case <-ticker.C:
			if err := s.PersistCursor(ctx); err != nil {
				s.logger.Error("failed to persist cursor", "err", err)
			}
		}
	}
}
