package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const listenerBuffer = 64

// PGListener is a Source backed by Postgres LISTEN/NOTIFY. Each
// subscription holds one pooled connection until it ends.
type PGListener struct {
	pool    *pgxpool.Pool
	channel string
}

// NewPGListener creates a listener on channel.
func NewPGListener(pool *pgxpool.Pool, channel string) *PGListener {
	return &PGListener{pool: pool, channel: channel}
}

// Subscribe starts listening. The returned channel closes when ctx is done
// or the connection fails; the caller resubscribes.
func (l *PGListener) Subscribe(ctx context.Context) (<-chan Event, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listener connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}
	log.Info().Str("channel", l.channel).Msg("Listening for change notifications")

	ch := make(chan Event, listenerBuffer)
	go func() {
		defer close(ch)
		defer func() {
			_, _ = conn.Exec(context.Background(), "UNLISTEN *")
			conn.Release()
		}()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("channel", l.channel).Msg("Change notification listener stopped")
				}
				return
			}

			var ev Event
			if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
				log.Error().Err(err).Str("payload", n.Payload).Msg("Malformed change notification")
				continue
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
