package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"certexam/internal/auth"
	"certexam/internal/db"
	"certexam/internal/exam"

	"github.com/redis/go-redis/v9"
)

// Stores holds the persistence backends selected by DB_DRIVER.
type Stores struct {
	DB    *sql.DB
	Exam  exam.Store
	Users auth.UserStore
	Cache exam.KeyCache

	redis *redis.Client
}

func OpenStores(ctx context.Context, cfg Config) (*Stores, error) {
	s := &Stores{}
	switch cfg.DBDriver {
	case "memory":
		log.Println("DB_DRIVER=memory, data is not persisted")
		s.Exam = exam.NewMemoryStore()
		s.Users = auth.NewMemoryUserStore()
	case string(db.DriverPostgres), string(db.DriverSQLite):
		conn, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN, cfg.PoolConfig())
		if err != nil {
			return nil, err
		}
		s.DB = conn
		s.Exam = exam.NewSQLStore(conn)
		s.Users = auth.NewSQLUserStore(conn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			// The resolver treats cache errors as misses, so a down Redis only costs latency.
			log.Printf("redis ping %s: %v", cfg.RedisAddr, err)
		}
		s.redis = client
		s.Cache = exam.NewRedisKeyCache(client, time.Duration(cfg.AnswerKeyCacheTTLSecs)*time.Second)
	}
	return s, nil
}

func (s *Stores) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Printf("close redis: %v", err)
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Printf("close db: %v", err)
		}
	}
}
