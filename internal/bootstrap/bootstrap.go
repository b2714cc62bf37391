// Package bootstrap opens the shared infrastructure of the reloop binaries.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/MrJamesThe3rd/reloop/internal/config"
	"github.com/MrJamesThe3rd/reloop/internal/database"
	"github.com/MrJamesThe3rd/reloop/internal/exchange"
	"github.com/MrJamesThe3rd/reloop/internal/exchange/memstore"
	"github.com/MrJamesThe3rd/reloop/internal/exchange/store"
	"github.com/MrJamesThe3rd/reloop/internal/kafka"
	"github.com/MrJamesThe3rd/reloop/internal/ledger"
	"github.com/MrJamesThe3rd/reloop/internal/notification"
	notificationStore "github.com/MrJamesThe3rd/reloop/internal/notification/store"
	"github.com/MrJamesThe3rd/reloop/internal/payment"
	"github.com/MrJamesThe3rd/reloop/internal/redisx"
)

type Infra struct {
	Repo          exchange.Repository
	Ledger        *ledger.Ledger
	Notifications notification.Store
	Notifier      notification.Notifier
	Localizer     *notification.Localizer
	Redis         *redis.Client

	db       *sql.DB
	producer *kafka.Producer
}

// Open connects the store, the optional Redis cache and the notifier. source
// names the binary in published event envelopes.
func Open(ctx context.Context, cfg *config.Config, source string) (*Infra, error) {
	in := &Infra{Localizer: notification.NewLocalizer(cfg.Notify.Language)}

	switch cfg.App.Store {
	case "memory":
		slog.Warn("using in-memory store, data is lost on exit")

		in.Repo = memstore.New()
		in.Notifications = notification.NewMemoryStore()
	default:
		db, err := database.New(cfg.ConnectionString(), database.PoolConfig{
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}

		in.db = db

		if cfg.DB.Migrate {
			if err := database.Migrate(ctx, db); err != nil {
				in.Close()
				return nil, err
			}
		}

		in.Repo = store.New(db)
		in.Notifications = notificationStore.New(db)
	}

	var cache ledger.StatusCache

	if cfg.Redis.Addr != "" {
		rdb, err := redisx.New(ctx, redisx.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			in.Close()
			return nil, err
		}

		in.Redis = rdb
		cache = redisx.NewStatusCache(rdb, redisx.TTLStatusCache)
	}

	in.Ledger = ledger.New(in.Repo, cache)

	if cfg.KafkaEnabled() {
		in.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.Buffer)
		// The producer outlives ctx so events raised during shutdown still
		// flush in Close.
		in.producer.Start(context.WithoutCancel(ctx))
		in.Notifier = notification.NewKafkaNotifier(in.producer, in.Localizer, source)

		slog.Info("publishing notifications to kafka", "topic", cfg.Kafka.Topic)
	} else {
		in.Notifier = notification.NewStoreNotifier(in.Notifications, in.Localizer)
	}

	return in, nil
}

// ReconcilerOptions enables signature checks and, with Redis, delivery
// deduplication for the payment webhook.
func (in *Infra) ReconcilerOptions(cfg *config.Config) []payment.ReconcilerOption {
	opts := []payment.ReconcilerOption{payment.WithServerKey(cfg.Payment.ServerKey)}

	if in.Redis != nil {
		opts = append(opts, payment.WithDeduper(redisx.NewDeduper(in.Redis, "payment", redisx.TTLDedup)))
	}

	return opts
}

// Close flushes pending notifications before releasing connections.
func (in *Infra) Close() {
	if in.producer != nil {
		in.producer.Close()
		in.producer.WaitClosed()
	}

	if in.Redis != nil {
		if err := in.Redis.Close(); err != nil {
			slog.Warn("closing redis", "error", err)
		}
	}

	if in.db != nil {
		if err := in.db.Close(); err != nil {
			slog.Warn("closing database", "error", err)
		}
	}
}

func (in *Infra) String() string {
	return fmt.Sprintf("store=%T redis=%t kafka=%t lang=%s",
		in.Repo, in.Redis != nil, in.producer != nil, in.Localizer.Language())
}
