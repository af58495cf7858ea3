// Package realtime turns row-level change notifications into debounced
// refresh signals, and falls back to polling when notifications go quiet.
package realtime

import (
	"context"
	"encoding/json"
)

// Table names carried by change notifications.
const (
	TableGames     = "games"
	TableRelations = "user_game_relations"
	TableUsers     = "users"
	TableCourts    = "courts"
)

// Row operations.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Event is one row change. Old is empty for inserts and New is empty for
// deletes.
type Event struct {
	Table string          `json:"table"`
	Type  string          `json:"type"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

// Source delivers change events until ctx is done. The channel is closed
// when the subscription ends, whether by cancellation or connection loss.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Row is the subset of row fields the bridge inspects. Fields absent from a
// table's rows stay nil.
type Row struct {
	ID           int64   `json:"id"`
	Status       *string `json:"status"`
	CourtID      *int64  `json:"court_id"`
	UserStatus   *string `json:"user_status"`
	IsAttendance *bool   `json:"is_attendance"`
	IsActive     *bool   `json:"is_active"`
}

// DecodeRow parses a row image. Empty and JSON null images decode to nil.
func DecodeRow(raw json.RawMessage) (*Row, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var r Row
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// NewEvent builds an event from row values. Nil rows are left empty.
func NewEvent(table, op string, oldRow, newRow any) (Event, error) {
	ev := Event{Table: table, Type: op}
	if oldRow != nil {
		raw, err := json.Marshal(oldRow)
		if err != nil {
			return Event{}, err
		}
		ev.Old = raw
	}
	if newRow != nil {
		raw, err := json.Marshal(newRow)
		if err != nil {
			return Event{}, err
		}
		ev.New = raw
	}
	return ev, nil
}
