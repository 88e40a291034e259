package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherhub/backend/internal/models"
)

// ErrEventNotFound is returned when an event id does not exist.
var ErrEventNotFound = errors.New("event not found")

// Repository handles event and membership persistence. It is the membership
// source the voting eligibility checks read from.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new event and enrolls the creator as its first member.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insertEvent = `INSERT INTO events (id, title, description, status, created_by)
		VALUES (gen_random_uuid(), $1, $2, 'draft', $3)
		RETURNING id, status, created_at, updated_at`
	if err := tx.QueryRow(ctx, insertEvent, e.Title, e.Description, e.CreatedBy).
		Scan(&e.ID, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return err
	}
	const insertMember = `INSERT INTO event_members (event_id, user_id) VALUES ($1, $2)`
	if _, err := tx.Exec(ctx, insertMember, e.ID, e.CreatedBy); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	const q = `SELECT id, title, description, status, created_by, created_at, updated_at
		FROM events WHERE id = $1`
	var e models.Event
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListByMember returns the events a user belongs to.
func (r *Repository) ListByMember(ctx context.Context, userID uuid.UUID) ([]models.Event, error) {
	const q = `SELECT e.id, e.title, e.description, e.status, e.created_by, e.created_at, e.updated_at
		FROM events e JOIN event_members m ON m.event_id = e.id
		WHERE m.user_id = $1 ORDER BY e.created_at DESC`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.Status, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// AddMember enrolls a user in an event. Joining twice is a no-op.
func (r *Repository) AddMember(ctx context.Context, eventID, userID uuid.UUID) error {
	const q = `INSERT INTO event_members (event_id, user_id) VALUES ($1, $2)
		ON CONFLICT (event_id, user_id) DO NOTHING`
	_, err := r.pool.Exec(ctx, q, eventID, userID)
	return err
}

// ListMembers returns the member user ids of an event with join times.
func (r *Repository) ListMembers(ctx context.Context, eventID uuid.UUID) ([]models.EventMember, error) {
	const q = `SELECT event_id, user_id, joined_at FROM event_members WHERE event_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.EventMember
	for rows.Next() {
		var m models.EventMember
		if err := rows.Scan(&m.EventID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// IsMember reports whether the user belongs to the event.
func (r *Repository) IsMember(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM event_members WHERE event_id = $1 AND user_id = $2)`
	var exists bool
	err := r.pool.QueryRow(ctx, q, eventID, userID).Scan(&exists)
	return exists, err
}

// Lock transitions the event from draft to locked, fixing its decisions.
func (r *Repository) Lock(ctx context.Context, eventID, requesterID uuid.UUID) (*models.Event, error) {
	const q = `UPDATE events SET status = 'locked', updated_at = NOW()
		WHERE id = $1 AND created_by = $2`
	if _, err := r.pool.Exec(ctx, q, eventID, requesterID); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, eventID)
}
