package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"taskflow/internal/platform/repositories"
)

// TokenPurger deletes invite and reset tokens that were consumed or expired
// more than Retention ago.
type TokenPurger struct {
	tokens    *repositories.AuthTokenRepository
	retention time.Duration
	now       func() time.Time
}

func NewTokenPurger(db sqlx.ExtContext, retention time.Duration) *TokenPurger {
	return &TokenPurger{
		tokens:    repositories.NewAuthTokenRepository(db),
		retention: retention,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (p *TokenPurger) WithClock(now func() time.Time) *TokenPurger {
	p.now = now
	return p
}

// Run performs one purge pass and reports how many tokens were removed.
func (p *TokenPurger) Run(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention).Unix()

	n, err := p.tokens.PurgeStale(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge stale tokens: %w", err)
	}

	log.Info().Int64("deleted", n).Int64("cutoff", cutoff).Msg("Worker: purged stale auth tokens")
	return n, nil
}
