package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"courtqueue/internal/model"
)

const configColumns = `id, show_sex, show_skill, enable_vs, enable_undo_game_by_user,
	enable_change_game_by_user, enable_add_user_auto, warning_time_minutes,
	danger_time_minutes, created_at, updated_at`

// ConfigRepository reads and writes the singleton settings row.
type ConfigRepository struct {
	pool *pgxpool.Pool
}

// NewConfigRepository creates a new ConfigRepository instance.
func NewConfigRepository(pool *pgxpool.Pool) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

func scanConfig(row pgx.Row) (*model.Config, error) {
	var c model.Config
	err := row.Scan(
		&c.ID,
		&c.ShowSex,
		&c.ShowSkill,
		&c.EnableVS,
		&c.EnableUndoGameByUser,
		&c.EnableChangeGameByUser,
		&c.EnableAddUserAuto,
		&c.WarningTimeMinutes,
		&c.DangerTimeMinutes,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get returns the settings row, creating it with defaults when missing.
func (r *ConfigRepository) Get(ctx context.Context) (*model.Config, error) {
	const query = `SELECT ` + configColumns + ` FROM config ORDER BY id LIMIT 1`

	cfg, err := scanConfig(r.pool.QueryRow(ctx, query))
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, classify("get config", err)
	}

	def := model.DefaultConfig()
	const insert = `
		INSERT INTO config (show_sex, show_skill, enable_vs, enable_undo_game_by_user,
			enable_change_game_by_user, enable_add_user_auto, warning_time_minutes, danger_time_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + configColumns

	cfg, err = scanConfig(r.pool.QueryRow(ctx, insert,
		def.ShowSex, def.ShowSkill, def.EnableVS, def.EnableUndoGameByUser,
		def.EnableChangeGameByUser, def.EnableAddUserAuto,
		def.WarningTimeMinutes, def.DangerTimeMinutes,
	))
	if err != nil {
		return nil, classify("create default config", err)
	}
	log.Info().Int64("config_id", cfg.ID).Msg("Created default config row")
	return cfg, nil
}

// Update writes every settings field of the existing row.
func (r *ConfigRepository) Update(ctx context.Context, cfg *model.Config) (*model.Config, error) {
	if err := ValidateThresholds(cfg); err != nil {
		return nil, err
	}

	current, err := r.Get(ctx)
	if err != nil {
		return nil, err
	}

	const query = `
		UPDATE config SET
			show_sex = $2, show_skill = $3, enable_vs = $4, enable_undo_game_by_user = $5,
			enable_change_game_by_user = $6, enable_add_user_auto = $7,
			warning_time_minutes = $8, danger_time_minutes = $9, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + configColumns

	updated, err := scanConfig(r.pool.QueryRow(ctx, query, current.ID,
		cfg.ShowSex, cfg.ShowSkill, cfg.EnableVS, cfg.EnableUndoGameByUser,
		cfg.EnableChangeGameByUser, cfg.EnableAddUserAuto,
		cfg.WarningTimeMinutes, cfg.DangerTimeMinutes,
	))
	if err != nil {
		return nil, classify("update config", err)
	}
	return updated, nil
}

// ValidateThresholds checks the elapsed-time thresholds of a settings row.
func ValidateThresholds(cfg *model.Config) error {
	if cfg.WarningTimeMinutes <= 0 || cfg.DangerTimeMinutes <= 0 {
		return fmt.Errorf("thresholds must be positive: %w", ErrInvalidState)
	}
	if cfg.WarningTimeMinutes > cfg.DangerTimeMinutes {
		return fmt.Errorf("warning threshold %d exceeds danger threshold %d: %w",
			cfg.WarningTimeMinutes, cfg.DangerTimeMinutes, ErrInvalidState)
	}
	return nil
}
