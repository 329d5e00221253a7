package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/relayswitch/internal/logger"
)

// ConnectOptions defines the history server connection and its retry policy.
type ConnectOptions struct {
	Addr         string        // ex: "localhost:6379"
	User         string        // optional ACL user
	Password     string        // optional
	DB           int           // database number
	DialTimeout  time.Duration // per-dial timeout
	ReadTimeout  time.Duration // per-command read timeout
	WriteTimeout time.Duration // per-command write timeout

	ConnectTimeout time.Duration // total budget for the first successful ping (ex: 30s)
	RetryInterval  time.Duration // first wait between pings, doubled each attempt (ex: 1s)
	MaxWait        time.Duration // cap on the wait between pings (ex: 10s)
	PingTimeout    time.Duration // timeout of each ping
}

// Validate checks the retry policy.
func (o ConnectOptions) Validate() error {
	switch {
	case o.Addr == "":
		return fmt.Errorf("redis address is required")
	case o.ConnectTimeout <= 0:
		return fmt.Errorf("ConnectTimeout must be > 0, got %v", o.ConnectTimeout)
	case o.RetryInterval <= 0:
		return fmt.Errorf("RetryInterval must be > 0, got %v", o.RetryInterval)
	case o.MaxWait <= 0:
		return fmt.Errorf("MaxWait must be > 0, got %v", o.MaxWait)
	case o.PingTimeout <= 0:
		return fmt.Errorf("PingTimeout must be > 0, got %v", o.PingTimeout)
	}
	return nil
}

// Connect creates a client and pings it with exponential backoff until it
// answers or ConnectTimeout elapses. ctx cancellation aborts the wait.
func Connect(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log = log.With(logger.String("addr", opts.Addr))

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.User,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	if err := pingWithRetry(ctx, client, opts, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func pingWithRetry(ctx context.Context, client *redis.Client, opts ConnectOptions, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	log.Info("connecting to redis", logger.Duration("timeout", opts.ConnectTimeout))
	start := time.Now()
	wait := opts.RetryInterval

	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()

		if err == nil {
			if attempt > 1 {
				log.Warn("connected to redis after retry",
					logger.Int("attempts", attempt),
					logger.Duration("elapsed", time.Since(start)))
			} else {
				log.Info("connected to redis")
			}
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Error("redis unavailable", logger.Int("attempts", attempt), logger.Error(err))
			return fmt.Errorf("redis unavailable at %s after %d attempts: %w", opts.Addr, attempt, err)
		case <-timer.C:
			log.Warn("redis connection failed, retrying",
				logger.Int("attempt", attempt),
				logger.Duration("next_retry_in", min(wait*2, opts.MaxWait)),
				logger.Error(err))
			wait = min(wait*2, opts.MaxWait)
		}
	}
}
