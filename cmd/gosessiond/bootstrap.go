package main

import (
	"context"
	"fmt"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/config"
	"github.com/MrEthical07/goSession/mailer"
	"github.com/MrEthical07/goSession/mailqueue"
	"github.com/MrEthical07/goSession/userstore"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// startupAttempts bounds how long dependencies get to come up.
const startupAttempts = 6

// waitFor retries ping with exponential backoff starting at 250ms.
func waitFor(ctx context.Context, name string, ping func(context.Context) error) error {
	b := retry.WithMaxRetries(startupAttempts, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ping(pctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s unreachable: %w", name, err)
	}
	return nil
}

func newRedis(cfg config.Redis) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// newUserStore returns the configured store and a func releasing it.
func newUserStore(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient) (userstore.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return userstore.NewMemory(), func() {}, nil
	case "redis":
		return userstore.NewRedis(rdb, cfg.Store.RedisPrefix), func() {}, nil
	case "postgres":
		pcfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("parse db.dsn: %w", err)
		}
		if cfg.DB.MaxConns > 0 {
			pcfg.MaxConns = cfg.DB.MaxConns
		}
		if cfg.DB.MinConns > 0 {
			pcfg.MinConns = cfg.DB.MinConns
		}
		pool, err := pgxpool.NewWithConfig(ctx, pcfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := waitFor(ctx, "postgres", pool.Ping); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return userstore.NewPostgres(pool, cfg.DB.QueryTimeout), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store.driver %q", cfg.Store.Driver)
	}
}

// newSender logs messages when no SMTP host is configured.
func newSender(cfg config.SMTP, log *zap.Logger) (mailer.Sender, error) {
	if cfg.Host == "" {
		log.Warn("smtp.host not set, verification emails are logged instead of sent")
		return mailer.NewLogSender(log), nil
	}
	return mailer.NewSMTPSender(mailer.SMTPConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
	})
}

func engineConfig(cfg *config.Config) goSession.Config {
	ec := goSession.DefaultConfig()

	ec.JWT.AccessKey = []byte(cfg.JWT.AccessSecret)
	ec.JWT.RefreshKey = []byte(cfg.JWT.RefreshSecret)
	ec.JWT.AccessTTL = cfg.JWT.AccessTTL
	ec.JWT.RefreshTTL = cfg.JWT.RefreshTTL
	ec.JWT.Issuer = cfg.JWT.Issuer

	ec.Password.MinLength = cfg.Password.MinLength
	ec.Password.MinEntropyBits = cfg.Password.MinEntropyBits
	ec.Password.Memory = cfg.Password.ArgonMemory
	ec.Password.Time = cfg.Password.ArgonTime
	ec.Password.Parallelism = cfg.Password.ArgonThreads

	ec.LoginThrottle.MaxAttempts = cfg.LoginThrottle.MaxAttempts
	ec.LoginThrottle.Cooldown = cfg.LoginThrottle.Cooldown
	ec.LoginThrottle.EnableIPThrottle = cfg.LoginThrottle.PerIP
	ec.LoginThrottle.Enabled = cfg.LoginThrottle.MaxAttempts > 0

	ec.EmailVerification.ClientURL = cfg.Verification.ClientURL
	ec.EmailVerification.TokenTTL = cfg.Verification.TokenTTL
	ec.EmailVerification.MaxResends = cfg.Verification.MaxResends
	ec.EmailVerification.ResendCooldown = cfg.Verification.ResendCooldown

	ec.Audit.Enabled = cfg.Audit.Enabled
	ec.Metrics.Enabled = true
	ec.Metrics.EnableLatencyHistograms = true
	return ec
}

func queueConfig(cfg config.Queue) mailqueue.Config {
	qc := mailqueue.DefaultConfig()
	qc.Prefix = cfg.Prefix
	qc.MaxAttempts = cfg.MaxAttempts
	qc.BackoffBase = cfg.BackoffBase
	qc.CompletedAge = cfg.CompletedAge
	qc.CompletedCount = cfg.CompletedCount
	qc.FailedAge = cfg.FailedAge
	return qc
}

func workerConfig(cfg *config.Config) mailqueue.WorkerConfig {
	wc := mailqueue.DefaultWorkerConfig()
	wc.ClientURL = cfg.Verification.ClientURL
	wc.PollInterval = cfg.Worker.PollInterval
	wc.RateMax = cfg.Worker.RateMax
	wc.RateWindow = cfg.Worker.RateWindow
	return wc
}
