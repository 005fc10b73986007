package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/pressly/goose/v3"

	"github.com/mbd888/riskwatch/internal/config"
	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/retry"
	"github.com/mbd888/riskwatch/migrations"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// openStore builds the configured record store, waiting for the backend to
// come up.
func (s *Server) openStore(ctx context.Context) (kvstore.Store, error) {
	notify := func(attempt int, err error, wait time.Duration) {
		s.logger.Warn("store not reachable, retrying",
			"backend", s.cfg.Store.Backend,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	switch s.cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := sql.Open("postgres", s.cfg.Store.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		err = retry.DoNotify(ctx, connectAttempts, connectBackoff, func() error {
			return db.PingContext(ctx)
		}, notify)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if s.cfg.Store.Migrate {
			if err := migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
			s.logger.Info("database migrations applied")
		}

		s.db = db
		s.closers = append(s.closers, db.Close)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(s.cfg.Store.DatabaseURL))
		return kvstore.NewPostgresStore(db), nil

	case config.BackendRedis:
		rc := s.cfg.Store.Redis
		var store *kvstore.RedisStore
		err := retry.DoNotify(ctx, connectAttempts, connectBackoff, func() error {
			var err error
			store, err = kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
				Addr:     rc.Addr,
				Password: rc.Password,
				DB:       rc.DB,
				Prefix:   rc.Prefix,
			}, s.logger)
			return err
		}, notify)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, store.Close)
		return store, nil

	default:
		s.logger.Info("using in-memory storage")
		return kvstore.NewMemoryStore(), nil
	}
}

// migrate applies the embedded goose migrations.
func migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

func (s *Server) closeStore() {
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			s.logger.Error("store close error", "error", err)
		}
	}
	s.closers = nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
