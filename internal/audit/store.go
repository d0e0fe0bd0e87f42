package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valinor-ai/gatehouse/internal/access"
	"github.com/valinor-ai/gatehouse/internal/platform/database"
)

// Store handles audit event persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

const insertColumns = 9

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting audit events: %w", err)
	}
	return nil
}

// buildBatchInsert constructs a multi-row INSERT statement. Changes are
// redacted here as well so no code path can persist a raw secret.
func buildBatchInsert(events []Event) (string, []any, error) {
	const cols = "(actor_id, tenant_id, partner_id, action, resource_type, resource_id, changes, request_metadata, created_at)"
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*insertColumns)
	now := time.Now().UTC()

	for i, e := range events {
		base := i * insertColumns
		ph := make([]string, insertColumns)
		for j := range ph {
			ph[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(ph, ", ")+")")

		var changes []byte
		if e.Changes != nil {
			var err error
			changes, err = json.Marshal(Redact(e.Changes))
			if err != nil {
				return "", nil, fmt.Errorf("marshaling changes: %w", err)
			}
		}
		meta, err := json.Marshal(e.Request)
		if err != nil {
			return "", nil, fmt.Errorf("marshaling request metadata: %w", err)
		}

		args = append(args,
			nullable(e.ActorID), nullable(e.TenantID), nullable(e.PartnerID),
			e.Action, nullable(e.ResourceType), nullable(e.ResourceID),
			changes, meta, now,
		)
	}

	sql := fmt.Sprintf("INSERT INTO audit_events %s VALUES %s", cols, strings.Join(placeholders, ", "))
	return sql, args, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// ListEventsParams defines filters for querying audit events.
type ListEventsParams struct {
	Scope        access.Filter
	Action       *string
	ResourceType *string
	ActorID      *string
	After        *time.Time
	Before       *time.Time
	Limit        int
}

// EventRecord is a stored audit event.
type EventRecord struct {
	ID           string          `json:"id"`
	ActorID      *string         `json:"actor_id"`
	TenantID     *string         `json:"tenant_id"`
	PartnerID    *string         `json:"partner_id"`
	Action       string          `json:"action"`
	ResourceType *string         `json:"resource_type"`
	ResourceID   *string         `json:"resource_id"`
	Changes      json.RawMessage `json:"changes"`
	Request      json.RawMessage `json:"request_metadata"`
	CreatedAt    time.Time       `json:"created_at"`
}

// List returns events matching p, newest first.
func (s *Store) List(ctx context.Context, db database.Querier, p ListEventsParams) ([]EventRecord, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(&e.ID, &e.ActorID, &e.TenantID, &e.PartnerID, &e.Action,
			&e.ResourceType, &e.ResourceID, &e.Changes, &e.Request, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// buildListQuery constructs a parameterized SELECT for audit events. The
// scope predicate always comes first.
func buildListQuery(p ListEventsParams) (string, []any) {
	var conditions []string
	var args []any
	argN := 1

	if pred, predArgs := p.Scope.Predicate(argN); pred != "" {
		conditions = append(conditions, pred)
		args = append(args, predArgs...)
		argN += len(predArgs)
	}

	add := func(cond string, v any) {
		conditions = append(conditions, fmt.Sprintf(cond, argN))
		args = append(args, v)
		argN++
	}
	if p.Action != nil {
		add("action = $%d", *p.Action)
	}
	if p.ResourceType != nil {
		add("resource_type = $%d", *p.ResourceType)
	}
	if p.ActorID != nil {
		add("actor_id = $%d", *p.ActorID)
	}
	if p.After != nil {
		add("created_at > $%d", *p.After)
	}
	if p.Before != nil {
		add("created_at < $%d", *p.Before)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	sql := fmt.Sprintf(
		`SELECT id, actor_id, tenant_id, partner_id, action, resource_type, resource_id, changes, request_metadata, created_at
		FROM audit_events
		%s
		ORDER BY created_at DESC
		LIMIT $%d`,
		where, argN,
	)
	args = append(args, p.Limit)

	return sql, args
}
