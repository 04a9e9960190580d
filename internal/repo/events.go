package repo

import (
	"context"
	"fmt"
	"strings"

	"bountyline/internal/domain"
)

type EventFilters struct {
	Type       string
	EntityKind string
	EntityID   string
	Caller     string
	// AfterID is an exclusive cursor.
	AfterID int64
	Limit   int
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Caller != "" {
		clauses = append(clauses, "caller=?")
		args = append(args, f.Caller)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),caller,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Caller, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, 0 when the log is empty.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events`).Scan(&id)
	return id, err
}
