package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles generation_events PostgreSQL operations.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert persists one event. A repeated task step is ignored.
func (r *Repository) Insert(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	details := e.Details
	if len(details) == 0 {
		details = json.RawMessage(`{}`)
	}

	_, err := r.pool.Exec(ctx,
		`INSERT INTO generation_events (id, task_id, owner_kind, owner_id, event_type, mode, model_id, image_count, details, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (task_id, event_type) WHERE task_id <> '' DO NOTHING`,
		e.ID, e.TaskID, e.OwnerKind, e.OwnerID, e.EventType, e.Mode, e.ModelID, e.ImageCount, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting generation event: %w", err)
	}
	return nil
}

// ListByOwner returns paginated events for an owner, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerKind, ownerID string, params ListParams) ([]Event, int64, error) {
	params = normalize(params)
	where, args := buildFilter(ownerKind, ownerID, params)

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM generation_events WHERE %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting generation events: %w", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(
		`SELECT id, task_id, owner_kind, owner_id, event_type, mode, model_id, image_count, details, created_at
		 FROM generation_events WHERE %s
		 ORDER BY created_at DESC
		 LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying generation events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.TaskID, &e.OwnerKind, &e.OwnerID, &e.EventType,
			&e.Mode, &e.ModelID, &e.ImageCount, &e.Details, &e.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning generation event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating generation events: %w", err)
	}

	return events, total, nil
}

func normalize(p ListParams) ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 100 {
		p.PageSize = 20
	}
	return p
}

// buildFilter returns the WHERE clause and its positional arguments.
func buildFilter(ownerKind, ownerID string, p ListParams) (string, []any) {
	conditions := []string{"owner_kind = $1", "owner_id = $2"}
	args := []any{ownerKind, ownerID}

	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if p.EventType != "" {
		add("event_type = $%d", p.EventType)
	}
	if p.Mode != "" {
		add("mode = $%d", p.Mode)
	}
	if p.From != nil {
		add("created_at >= $%d", *p.From)
	}
	if p.To != nil {
		add("created_at <= $%d", *p.To)
	}

	return strings.Join(conditions, " AND "), args
}
