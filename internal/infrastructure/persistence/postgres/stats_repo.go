package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/edu-progress/internal/domain/progress"
	"github.com/alem-hub/edu-progress/internal/domain/shared"
	"github.com/alem-hub/edu-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// StatsRepository implements progress.StatsRepository.
// Badges live in unlocked_badges and are only ever inserted.
type StatsRepository struct {
	conn    *Connection
	retrier *retry.Retrier
}

// NewStatsRepository creates a StatsRepository.
func NewStatsRepository(conn *Connection, logger *slog.Logger, opts ...retry.Option) *StatsRepository {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "stats_repo")
	return &StatsRepository{
		conn: conn,
		retrier: retry.DatabaseRetrier(append([]retry.Option{
			retry.WithRetryIf(IsTransient),
			retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
				logger.Warn("retrying stats query", "attempt", attempt, "delay", delay, "error", err)
			}),
		}, opts...)...),
	}
}

// Load implements progress.StatsRepository.
func (r *StatsRepository) Load(ctx context.Context, identityID string) (progress.Stats, error) {
	stats, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) (progress.Stats, error) {
		return r.load(ctx, identityID)
	})
	if err != nil {
		if IsNoRows(err) {
			return progress.Stats{}, shared.ErrStatsNotFound
		}
		return progress.Stats{}, fmt.Errorf("failed to load stats: %w", err)
	}
	return stats, nil
}

func (r *StatsRepository) load(ctx context.Context, identityID string) (progress.Stats, error) {
	query := `
		SELECT current_streak, best_streak, total_games_played, total_xp,
		       activity_stats, subject_mastery
		FROM progress_stats
		WHERE identity_id = $1
	`

	stats := progress.NewStats()
	var activityJSON, masteryJSON []byte
	err := r.conn.QueryRow(ctx, query, identityID).Scan(
		&stats.CurrentStreak,
		&stats.BestStreak,
		&stats.TotalGamesPlayed,
		&stats.TotalXP,
		&activityJSON,
		&masteryJSON,
	)
	if err != nil {
		return progress.Stats{}, err
	}

	if len(activityJSON) > 0 {
		if err := json.Unmarshal(activityJSON, &stats.ActivityStats); err != nil {
			return progress.Stats{}, retry.Permanent(fmt.Errorf("failed to decode activity_stats: %w", err))
		}
	}
	if len(masteryJSON) > 0 {
		if err := json.Unmarshal(masteryJSON, &stats.SubjectMastery); err != nil {
			return progress.Stats{}, retry.Permanent(fmt.Errorf("failed to decode subject_mastery: %w", err))
		}
	}

	rows, err := r.conn.Query(ctx, `
		SELECT badge_id FROM unlocked_badges
		WHERE identity_id = $1
		ORDER BY unlocked_at, badge_id
	`, identityID)
	if err != nil {
		return progress.Stats{}, err
	}
	badges, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return progress.Stats{}, err
	}
	stats.UnlockedBadges = badges

	return stats.Normalize(), nil
}

// Save implements progress.StatsRepository. Totals and best streak never
// decrease in storage even if a stale snapshot is written.
func (r *StatsRepository) Save(ctx context.Context, identityID string, stats progress.Stats) error {
	stats = stats.Normalize()

	activityJSON, err := json.Marshal(stats.ActivityStats)
	if err != nil {
		return fmt.Errorf("failed to marshal activity_stats: %w", err)
	}
	masteryJSON, err := json.Marshal(stats.SubjectMastery)
	if err != nil {
		return fmt.Errorf("failed to marshal subject_mastery: %w", err)
	}

	upsert := `
		INSERT INTO progress_stats (
			identity_id, current_streak, best_streak, total_games_played, total_xp,
			activity_stats, subject_mastery, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, NOW())
		ON CONFLICT (identity_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			best_streak = GREATEST(progress_stats.best_streak, EXCLUDED.best_streak),
			total_games_played = GREATEST(progress_stats.total_games_played, EXCLUDED.total_games_played),
			total_xp = GREATEST(progress_stats.total_xp, EXCLUDED.total_xp),
			activity_stats = EXCLUDED.activity_stats,
			subject_mastery = EXCLUDED.subject_mastery,
			updated_at = NOW()
	`

	err = r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, upsert,
				identityID,
				stats.CurrentStreak,
				stats.BestStreak,
				stats.TotalGamesPlayed,
				stats.TotalXP,
				string(activityJSON),
				string(masteryJSON),
			); err != nil {
				return err
			}

			if len(stats.UnlockedBadges) == 0 {
				return nil
			}
			batch := &pgx.Batch{}
			for _, id := range stats.UnlockedBadges {
				batch.Queue(`
					INSERT INTO unlocked_badges (identity_id, badge_id)
					VALUES ($1, $2)
					ON CONFLICT (identity_id, badge_id) DO NOTHING
				`, identityID, id)
			}
			return tx.SendBatch(ctx, batch).Close()
		})
	})
	if err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}
