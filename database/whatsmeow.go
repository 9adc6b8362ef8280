package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite"
)

// NewWhatsmeowContainer opens the whatsmeow credential store. Postgres URLs
// get the postgres dialect; anything else is treated as a sqlite DSN, which
// keeps local development free of a second postgres database.
func NewWhatsmeowContainer(ctx context.Context, url string, logger waLog.Logger) (*sqlstore.Container, error) {
	dialect := "sqlite"
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		dialect = "postgres"
	}

	var container *sqlstore.Container

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		var err error
		container, err = sqlstore.New(ctx, dialect, url, logger)
		if err != nil {
			log.Warn().Err(err).Str("dialect", dialect).Msg("whatsmeow store not ready, retrying")
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, fmt.Errorf("database: open whatsmeow store (%s): %w", dialect, err)
	}

	log.Info().Str("dialect", dialect).Msg("whatsmeow credential store connected")
	return container, nil
}
