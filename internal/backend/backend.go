// Package backend opens the infrastructure a binary needs from config: the
// remote document store and the notification channel.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"sessiontrack/internal/cache"
	"sessiontrack/internal/config"
	"sessiontrack/internal/database"
	"sessiontrack/internal/handlers"
	"sessiontrack/internal/models"
	"sessiontrack/internal/notify"
	"sessiontrack/internal/storage"
	"sessiontrack/internal/store"
	"sessiontrack/internal/store/memstore"
	"sessiontrack/internal/store/pgstore"
	"sessiontrack/internal/store/redisstore"
)

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Backend struct {
	Store   store.RemoteStore
	Pingers []handlers.Pinger
	closers []func()
}

// Close releases connections in reverse order of opening.
func (b *Backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}

// Open connects the remote store selected by cfg.Store.Driver.
func Open(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (*Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	log = log.With().Str("component", "backend").Str("driver", driver).Logger()
	b := &Backend{}

	switch driver {
	case DriverMemory, "":
		b.Store = memstore.New(memstore.WithAppendOnly(models.CollectionBroadcasts))
		log.Warn().Msg("using in-memory store; state is not shared between processes")

	case DriverRedis:
		client, err := cache.NewRedisClient(ctx, cfg.Redis, cfg.Store.Timeout)
		if err != nil {
			return nil, err
		}
		rs := redisstore.New(client, cfg.Redis.KeyPrefix,
			redisstore.WithAppendOnly(models.CollectionBroadcasts),
			redisstore.WithLogger(log))
		b.Store = rs
		b.Pingers = append(b.Pingers, handlers.Pinger{Name: "redis", Ping: rs.Ping})
		b.closers = append(b.closers, func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("close redis client")
			}
		})

	case DriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, cfg.Store.Timeout)
		if err != nil {
			return nil, err
		}
		ps := pgstore.New(pool,
			pgstore.WithAppendOnly(models.CollectionBroadcasts),
			pgstore.WithLogger(log))
		if err := ps.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		b.Store = ps
		b.Pingers = append(b.Pingers, handlers.Pinger{Name: "postgres", Ping: ps.Ping})
		b.closers = append(b.closers, pool.Close)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	log.Info().Msg("remote store ready")
	return b, nil
}

// Notifier builds the admin notification channel: Telegram when a bot
// token is configured, plus an object storage archive when enabled.
func Notifier(ctx context.Context, cfg *config.AppConfig, log zerolog.Logger) (notify.Channel, []handlers.Pinger, error) {
	var (
		channels []notify.Channel
		pingers  []handlers.Pinger
	)

	tg := cfg.Notify.Telegram
	if tg.BotToken != "" {
		client := &http.Client{Timeout: cfg.Notify.Timeout}
		channels = append(channels, notify.NewTelegram(client, tg.APIBase, tg.BotToken, tg.ChatID))
	}

	if cfg.Notify.Archive {
		objects, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			return nil, nil, err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return nil, nil, err
		}
		channels = append(channels, notify.NewArchive(objects, nil))
		pingers = append(pingers, handlers.Pinger{Name: "storage", Ping: objects.Ping})
	}

	if len(channels) == 0 {
		log.Warn().Msg("no notification channel configured; admin notifications are dropped")
	}
	return notify.Combine(channels...), pingers, nil
}
