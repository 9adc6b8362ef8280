package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
)

// ConnectApp opens the application database (tenants, message log, orders,
// outbox). The connection is retried with exponential backoff so the service
// survives a database that comes up slightly after it does.
func ConnectApp(url string) (*sql.DB, error) {
	if url == "" {
		return nil, fmt.Errorf("database: app DB URL is empty")
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("database: open app DB: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 30 * time.Second

	err = backoff.Retry(func() error {
		if pingErr := db.Ping(); pingErr != nil {
			log.Warn().Err(pingErr).Msg("app DB not reachable yet, retrying")
			return pingErr
		}
		return nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("database: ping app DB: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	log.Info().Msg("app DB connected")
	return db, nil
}
