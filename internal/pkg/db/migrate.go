package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var channelPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Migrate creates the schema and the change-notification triggers.
// Every row change on games, user_game_relations, users and courts is
// published on channel as a JSON document {table, type, old, new}.
func Migrate(ctx context.Context, pool *pgxpool.Pool, channel string) error {
	if !channelPattern.MatchString(channel) {
		return fmt.Errorf("invalid notification channel name %q", channel)
	}

	log.Info().Msg("Running database migrations...")

	// Migration 1: users
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			telegram_id BIGINT UNIQUE,
			name VARCHAR(255) NOT NULL,
			sex CHAR(1) NOT NULL DEFAULT 'M' CHECK (sex IN ('M', 'F')),
			skill CHAR(1) NOT NULL DEFAULT 'C' CHECK (skill IN ('A', 'B', 'C')),
			is_guest BOOLEAN NOT NULL DEFAULT FALSE,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			is_attendance BOOLEAN NOT NULL DEFAULT FALSE,
			admin_authority BOOLEAN NOT NULL DEFAULT FALSE,
			user_status VARCHAR(16) NOT NULL DEFAULT 'ready'
				CHECK (user_status IN ('ready', 'waiting', 'gaming')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("migration 1 (users): %w", err)
	}
	log.Info().Msg("Migration 1: users table created")

	// Migration 2: courts
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS courts (
			id BIGSERIAL PRIMARY KEY,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("migration 2 (courts): %w", err)
	}
	log.Info().Msg("Migration 2: courts table created")

	// Migration 3: games and participants.
	// games_one_per_court is the cross-client guarantee that a court hosts
	// at most one claimed or playing game.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS games (
			id BIGSERIAL PRIMARY KEY,
			status VARCHAR(16) NOT NULL DEFAULT 'waiting'
				CHECK (status IN ('waiting', 'playing', 'finished')),
			court_id BIGINT REFERENCES courts(id),
			start_time TIMESTAMPTZ,
			end_time TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CHECK (status <> 'playing' OR (court_id IS NOT NULL AND start_time IS NOT NULL)),
			CHECK (status <> 'waiting' OR start_time IS NULL)
		);
		CREATE INDEX IF NOT EXISTS idx_games_status_order ON games(status, created_at, id);
		CREATE UNIQUE INDEX IF NOT EXISTS games_one_per_court ON games(court_id)
			WHERE court_id IS NOT NULL AND status <> 'finished';

		CREATE TABLE IF NOT EXISTS user_game_relations (
			game_id BIGINT NOT NULL REFERENCES games(id) ON DELETE CASCADE,
			user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			position INT NOT NULL DEFAULT 0,
			PRIMARY KEY (game_id, user_id)
		);
		CREATE INDEX IF NOT EXISTS idx_relations_user ON user_game_relations(user_id);
	`)
	if err != nil {
		return fmt.Errorf("migration 3 (games): %w", err)
	}
	log.Info().Msg("Migration 3: games and user_game_relations tables created")

	// Migration 4: config singleton
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS config (
			id BIGSERIAL PRIMARY KEY,
			show_sex BOOLEAN NOT NULL DEFAULT TRUE,
			show_skill BOOLEAN NOT NULL DEFAULT TRUE,
			enable_vs BOOLEAN NOT NULL DEFAULT TRUE,
			enable_undo_game_by_user BOOLEAN NOT NULL DEFAULT FALSE,
			enable_change_game_by_user BOOLEAN NOT NULL DEFAULT FALSE,
			enable_add_user_auto BOOLEAN NOT NULL DEFAULT FALSE,
			warning_time_minutes INT NOT NULL DEFAULT 20,
			danger_time_minutes INT NOT NULL DEFAULT 30,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		INSERT INTO config (show_sex) SELECT TRUE WHERE NOT EXISTS (SELECT 1 FROM config);
	`)
	if err != nil {
		return fmt.Errorf("migration 4 (config): %w", err)
	}
	log.Info().Msg("Migration 4: config table created")

	// Migration 5: change notifications
	_, err = pool.Exec(ctx, fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION court_queue_notify() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify('%s', json_build_object(
				'table', TG_TABLE_NAME,
				'type', TG_OP,
				'old', CASE WHEN TG_OP IN ('UPDATE', 'DELETE') THEN row_to_json(OLD) END,
				'new', CASE WHEN TG_OP IN ('INSERT', 'UPDATE') THEN row_to_json(NEW) END
			)::text);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql;

		DROP TRIGGER IF EXISTS games_notify ON games;
		CREATE TRIGGER games_notify AFTER INSERT OR UPDATE OR DELETE ON games
			FOR EACH ROW EXECUTE FUNCTION court_queue_notify();
		DROP TRIGGER IF EXISTS relations_notify ON user_game_relations;
		CREATE TRIGGER relations_notify AFTER INSERT OR UPDATE OR DELETE ON user_game_relations
			FOR EACH ROW EXECUTE FUNCTION court_queue_notify();
		DROP TRIGGER IF EXISTS users_notify ON users;
		CREATE TRIGGER users_notify AFTER INSERT OR UPDATE OR DELETE ON users
			FOR EACH ROW EXECUTE FUNCTION court_queue_notify();
		DROP TRIGGER IF EXISTS courts_notify ON courts;
		CREATE TRIGGER courts_notify AFTER INSERT OR UPDATE OR DELETE ON courts
			FOR EACH ROW EXECUTE FUNCTION court_queue_notify();
	`, channel))
	if err != nil {
		return fmt.Errorf("migration 5 (notify triggers): %w", err)
	}
	log.Info().Str("channel", channel).Msg("Migration 5: change notification triggers created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
