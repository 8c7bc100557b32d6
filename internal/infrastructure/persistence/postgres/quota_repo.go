package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/edu-progress/internal/domain/entitlement"
	"github.com/alem-hub/edu-progress/internal/domain/quota"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
	"github.com/alem-hub/edu-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUOTA REPOSITORY (DurableStore)
// ══════════════════════════════════════════════════════════════════════════════

// QuotaRepository implements quota.Store, quota.DayResetter and
// entitlement.TierSource on top of the usage_quotas table.
// Transient failures are retried here; the ledger never retries.
type QuotaRepository struct {
	conn    *Connection
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewQuotaRepository creates a QuotaRepository.
func NewQuotaRepository(conn *Connection, logger *slog.Logger, opts ...retry.Option) *QuotaRepository {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "quota_repo")
	return &QuotaRepository{
		conn:   conn,
		logger: logger,
		retrier: retry.DatabaseRetrier(append([]retry.Option{
			retry.WithRetryIf(IsTransient),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Warn("retrying quota query", "attempt", attempt, "delay", delay, "error", err)
			}),
		}, opts...)...),
	}
}

// Load implements quota.Store.
func (r *QuotaRepository) Load(ctx context.Context, identityID string) (quota.Record, error) {
	query := `
		SELECT tier, daily_tokens_used, to_char(last_reset_date, 'YYYY-MM-DD'),
		       total_messages_used, updated_at
		FROM usage_quotas
		WHERE identity_id = $1
	`

	var (
		rec  quota.Record
		tier string
	)
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.conn.QueryRow(ctx, query, identityID).Scan(
			&tier,
			&rec.DailyTokensUsed,
			&rec.LastResetDate,
			&rec.TotalMessagesUsed,
			&rec.UpdatedAt,
		)
	})
	if err != nil {
		if IsNoRows(err) {
			return quota.Record{}, shared.ErrRecordNotFound
		}
		return quota.Record{}, fmt.Errorf("failed to load quota record: %w", err)
	}

	rec.Tier = entitlement.Tier(tier)
	return rec, nil
}

// Save implements quota.Store. The stored tier is only written on insert;
// usage writes never overwrite a tier set through SetTier.
func (r *QuotaRepository) Save(ctx context.Context, identityID string, rec quota.Record) error {
	query := `
		INSERT INTO usage_quotas (
			identity_id, tier, daily_tokens_used, last_reset_date, total_messages_used, updated_at
		) VALUES ($1, $2, $3, $4::date, $5, $6)
		ON CONFLICT (identity_id) DO UPDATE SET
			daily_tokens_used = EXCLUDED.daily_tokens_used,
			last_reset_date = EXCLUDED.last_reset_date,
			total_messages_used = EXCLUDED.total_messages_used,
			updated_at = EXCLUDED.updated_at
	`

	tier := rec.Tier
	if tier != entitlement.TierPro {
		tier = entitlement.TierFree
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, query,
			identityID,
			string(tier),
			rec.DailyTokensUsed,
			rec.LastResetDate,
			rec.TotalMessagesUsed,
			updatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save quota record: %w", err)
	}
	return nil
}

// ResetDay implements quota.DayResetter. The update only applies while the
// stored date is still older than today, so repeated or late resets are no-ops.
func (r *QuotaRepository) ResetDay(ctx context.Context, identityID, today string) error {
	query := `
		UPDATE usage_quotas
		SET daily_tokens_used = 0, last_reset_date = $2::date, updated_at = NOW()
		WHERE identity_id = $1 AND last_reset_date < $2::date
	`

	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, query, identityID, today)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to reset quota day: %w", err)
	}
	return nil
}

// TierOf implements entitlement.TierSource.
func (r *QuotaRepository) TierOf(ctx context.Context, identityID string) (entitlement.Tier, error) {
	var tier string
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.conn.QueryRow(ctx, `SELECT tier FROM usage_quotas WHERE identity_id = $1`, identityID).Scan(&tier)
	})
	if err != nil {
		if IsNoRows(err) {
			return "", shared.ErrRecordNotFound
		}
		return "", fmt.Errorf("failed to load tier: %w", err)
	}
	return entitlement.Tier(tier), nil
}

// SetTier assigns a subscription tier, creating the record if needed.
func (r *QuotaRepository) SetTier(ctx context.Context, identityID string, tier entitlement.Tier) error {
	if tier != entitlement.TierFree && tier != entitlement.TierPro {
		return shared.ErrUnknownTier
	}

	query := `
		INSERT INTO usage_quotas (identity_id, tier, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (identity_id) DO UPDATE SET tier = EXCLUDED.tier, updated_at = NOW()
	`
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		_, err := r.conn.Exec(ctx, query, identityID, string(tier))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set tier: %w", err)
	}
	return nil
}
