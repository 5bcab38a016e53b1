package repository

import (
	"context"
	"errors"
	"fmt"

	"licensing-service/internal/domain"
	xerrors "licensing-service/internal/utils/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type CohortRepository interface {
	GetByCohort(ctx context.Context, cohort string) (*domain.CohortConfig, error)
	Upsert(ctx context.Context, cfg *domain.CohortConfig) error
}

type cohortRepo struct {
	db *pgxpool.Pool
}

func NewCohortRepo(db *pgxpool.Pool) CohortRepository {
	return &cohortRepo{db: db}
}

func (r *cohortRepo) GetByCohort(ctx context.Context, cohort string) (*domain.CohortConfig, error) {
	var cfg domain.CohortConfig
	var directStr, parentStr string

	err := r.db.QueryRow(ctx, `
		SELECT cohort, direct_rate::text, parent_rate::text,
			direct_unlock_days, parent_unlock_days, updated_at
		FROM cohort_configs
		WHERE cohort = $1
	`, cohort).Scan(
		&cfg.Cohort, &directStr, &parentStr,
		&cfg.DirectUnlockDays, &cfg.ParentUnlockDays, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cohort config: %w", err)
	}

	if cfg.DirectRate, err = decimal.NewFromString(directStr); err != nil {
		return nil, fmt.Errorf("failed to parse direct rate: %w", err)
	}
	if cfg.ParentRate, err = decimal.NewFromString(parentStr); err != nil {
		return nil, fmt.Errorf("failed to parse parent rate: %w", err)
	}
	return &cfg, nil
}

func (r *cohortRepo) Upsert(ctx context.Context, cfg *domain.CohortConfig) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO cohort_configs (
			cohort, direct_rate, parent_rate, direct_unlock_days,
			parent_unlock_days, updated_at
		) VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (cohort) DO UPDATE SET
			direct_rate = EXCLUDED.direct_rate,
			parent_rate = EXCLUDED.parent_rate,
			direct_unlock_days = EXCLUDED.direct_unlock_days,
			parent_unlock_days = EXCLUDED.parent_unlock_days,
			updated_at = NOW()
	`, cfg.Cohort, cfg.DirectRate.String(), cfg.ParentRate.String(),
		cfg.DirectUnlockDays, cfg.ParentUnlockDays)
	if err != nil {
		return fmt.Errorf("failed to upsert cohort config: %w", err)
	}
	return nil
}
