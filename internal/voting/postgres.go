package voting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatherhub/backend/internal/models"
)

// PostgresStore implements Store on a pgx pool. Ballot mutations run inside a
// transaction that locks the (poll_id, voter_id) slot, so two racing casts
// from the same voter serialize to last-committed-wins.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a postgres-backed vote store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreatePoll(ctx context.Context, p *models.Poll) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertPoll = `INSERT INTO polls (id, event_id, title, description, kind, allow_multiple, creator_id, opens_at, closes_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if _, err := tx.Exec(ctx, insertPoll,
		p.ID, p.EventID, p.Title, p.Description, p.Kind, p.AllowMultiple, p.CreatorID, p.OpensAt, p.ClosesAt, p.Status, p.CreatedAt); err != nil {
		return fmt.Errorf("insert poll: %w", err)
	}
	const insertOption = `INSERT INTO options (id, poll_id, text, display_order, starts_at) VALUES ($1, $2, $3, $4, $5)`
	for _, opt := range p.Options {
		if _, err := tx.Exec(ctx, insertOption, opt.ID, opt.PollID, opt.Text, opt.DisplayOrder, opt.StartsAt); err != nil {
			return fmt.Errorf("insert option: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetPoll(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const q = `SELECT id, event_id, title, description, kind, allow_multiple, creator_id, opens_at, closes_at, status, ended_at, created_at
		FROM polls WHERE id = $1`
	var p models.Poll
	err := s.pool.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.EventID, &p.Title, &p.Description, &p.Kind, &p.AllowMultiple,
		&p.CreatorID, &p.OpensAt, &p.ClosesAt, &p.Status, &p.EndedAt, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	opts, err := s.listOptions(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Options = opts
	return &p, nil
}

func (s *PostgresStore) ListPollsByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Poll, error) {
	const q = `SELECT id, event_id, title, description, kind, allow_multiple, creator_id, opens_at, closes_at, status, ended_at, created_at
		FROM polls WHERE event_id = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Poll
	for rows.Next() {
		var p models.Poll
		if err := rows.Scan(&p.ID, &p.EventID, &p.Title, &p.Description, &p.Kind, &p.AllowMultiple,
			&p.CreatorID, &p.OpensAt, &p.ClosesAt, &p.Status, &p.EndedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range list {
		opts, err := s.listOptions(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		list[i].Options = opts
	}
	return list, nil
}

func (s *PostgresStore) ListExpired(ctx context.Context, asOf time.Time) ([]models.Poll, error) {
	const q = `SELECT id, event_id, title, description, kind, allow_multiple, creator_id, opens_at, closes_at, status, ended_at, created_at
		FROM polls WHERE status = 'active' AND closes_at IS NOT NULL AND closes_at <= $1`
	rows, err := s.pool.Query(ctx, q, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Poll
	for rows.Next() {
		var p models.Poll
		if err := rows.Scan(&p.ID, &p.EventID, &p.Title, &p.Description, &p.Kind, &p.AllowMultiple,
			&p.CreatorID, &p.OpensAt, &p.ClosesAt, &p.Status, &p.EndedAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func (s *PostgresStore) listOptions(ctx context.Context, pollID uuid.UUID) ([]models.Option, error) {
	const q = `SELECT id, poll_id, text, display_order, starts_at FROM options WHERE poll_id = $1 ORDER BY display_order`
	rows, err := s.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var opts []models.Option
	for rows.Next() {
		var o models.Option
		if err := rows.Scan(&o.ID, &o.PollID, &o.Text, &o.DisplayOrder, &o.StartsAt); err != nil {
			return nil, err
		}
		opts = append(opts, o)
	}
	return opts, rows.Err()
}

func (s *PostgresStore) AddOption(ctx context.Context, opt *models.Option) error {
	const q = `INSERT INTO options (id, poll_id, text, display_order, starts_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, q, opt.ID, opt.PollID, opt.Text, opt.DisplayOrder, opt.StartsAt)
	return err
}

func (s *PostgresStore) MarkEnded(ctx context.Context, pollID uuid.UUID) (*models.Poll, bool, error) {
	const q = `UPDATE polls SET status = 'ended', ended_at = NOW() WHERE id = $1 AND status = 'active'`
	tag, err := s.pool.Exec(ctx, q, pollID)
	if err != nil {
		return nil, false, err
	}
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return nil, false, err
	}
	return poll, tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpsertBallot(ctx context.Context, b *models.Ballot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// The ON CONFLICT path takes the row lock for the (poll, voter) slot, so
	// concurrent casts from the same voter serialize here.
	const upsert = `INSERT INTO ballots (id, poll_id, voter_id, cast_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (poll_id, voter_id) DO UPDATE SET cast_at = EXCLUDED.cast_at
		RETURNING id`
	var ballotID uuid.UUID
	if err := tx.QueryRow(ctx, upsert, b.ID, b.PollID, b.VoterID, b.CastAt).Scan(&ballotID); err != nil {
		return mapConflict(err)
	}
	if err := replaceSelections(ctx, tx, ballotID, b.OptionIDs); err != nil {
		return err
	}
	b.ID = ballotID
	return tx.Commit(ctx)
}

func (s *PostgresStore) ToggleBallot(ctx context.Context, b *models.Ballot) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM ballots WHERE poll_id = $1 AND voter_id = $2 FOR UPDATE`,
		b.PollID, b.VoterID).Scan(&existingID)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		const insert = `INSERT INTO ballots (id, poll_id, voter_id, cast_at) VALUES ($1, $2, $3, $4)`
		if _, err := tx.Exec(ctx, insert, b.ID, b.PollID, b.VoterID, b.CastAt); err != nil {
			return false, mapConflict(err)
		}
		if err := replaceSelections(ctx, tx, b.ID, b.OptionIDs); err != nil {
			return false, err
		}
		return false, tx.Commit(ctx)
	case err != nil:
		return false, err
	}

	prior, err := selectionsOf(ctx, tx, existingID)
	if err != nil {
		return false, err
	}
	if sameOptionSet(prior, b.OptionIDs) {
		if _, err := tx.Exec(ctx, `DELETE FROM ballots WHERE id = $1`, existingID); err != nil {
			return false, err
		}
		return true, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `UPDATE ballots SET cast_at = $1 WHERE id = $2`, b.CastAt, existingID); err != nil {
		return false, err
	}
	if err := replaceSelections(ctx, tx, existingID, b.OptionIDs); err != nil {
		return false, err
	}
	b.ID = existingID
	return false, tx.Commit(ctx)
}

func (s *PostgresStore) DeleteBallot(ctx context.Context, pollID, voterID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ballots WHERE poll_id = $1 AND voter_id = $2`, pollID, voterID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ListBallots(ctx context.Context, pollID uuid.UUID) ([]models.Ballot, error) {
	const q = `SELECT b.id, b.poll_id, b.voter_id, b.cast_at, bo.option_id
		FROM ballots b JOIN ballot_options bo ON bo.ballot_id = b.id
		WHERE b.poll_id = $1 ORDER BY b.id`
	rows, err := s.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Ballot
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var (
			b     models.Ballot
			optID uuid.UUID
		)
		if err := rows.Scan(&b.ID, &b.PollID, &b.VoterID, &b.CastAt, &optID); err != nil {
			return nil, err
		}
		if i, ok := index[b.ID]; ok {
			list[i].OptionIDs = append(list[i].OptionIDs, optID)
			continue
		}
		b.OptionIDs = []uuid.UUID{optID}
		index[b.ID] = len(list)
		list = append(list, b)
	}
	return list, rows.Err()
}

func (s *PostgresStore) GetBallot(ctx context.Context, pollID, voterID uuid.UUID) (*models.Ballot, error) {
	const q = `SELECT b.id, b.poll_id, b.voter_id, b.cast_at, bo.option_id
		FROM ballots b JOIN ballot_options bo ON bo.ballot_id = b.id
		WHERE b.poll_id = $1 AND b.voter_id = $2`
	rows, err := s.pool.Query(ctx, q, pollID, voterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var b *models.Ballot
	for rows.Next() {
		var (
			row   models.Ballot
			optID uuid.UUID
		)
		if err := rows.Scan(&row.ID, &row.PollID, &row.VoterID, &row.CastAt, &optID); err != nil {
			return nil, err
		}
		if b == nil {
			b = &row
		}
		b.OptionIDs = append(b.OptionIDs, optID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBallotNotFound
	}
	return b, nil
}

func (s *PostgresStore) HasBallots(ctx context.Context, pollID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM ballots WHERE poll_id = $1)`, pollID).Scan(&exists)
	return exists, err
}

func replaceSelections(ctx context.Context, tx pgx.Tx, ballotID uuid.UUID, optionIDs []uuid.UUID) error {
	if _, err := tx.Exec(ctx, `DELETE FROM ballot_options WHERE ballot_id = $1`, ballotID); err != nil {
		return err
	}
	const insert = `INSERT INTO ballot_options (ballot_id, option_id) VALUES ($1, $2)`
	for _, optID := range optionIDs {
		if _, err := tx.Exec(ctx, insert, ballotID, optID); err != nil {
			return err
		}
	}
	return nil
}

func selectionsOf(ctx context.Context, tx pgx.Tx, ballotID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := tx.Query(ctx, `SELECT option_id FROM ballot_options WHERE ballot_id = $1`, ballotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// mapConflict translates serialization and uniqueness races on the ballot
// slot into ErrConcurrentModification so the client can retry.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "23505") {
		return ErrConcurrentModification
	}
	return err
}
