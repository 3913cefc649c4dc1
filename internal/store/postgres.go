package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/transferdesk/slipcheck/internal/db"
	"github.com/transferdesk/slipcheck/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

const slipColumns = `id, filename, file_url, source, uploaded_by, status, ocr_text,
	ocr_confidence, expected_amount, detected_amount, detected_reference,
	match, amount_match, review_trail, created_at, updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS slips (
	id                 TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	file_url           TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL,
	uploaded_by        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending',
	ocr_text           TEXT NOT NULL DEFAULT '',
	ocr_confidence     DOUBLE PRECISION,
	expected_amount    DOUBLE PRECISION,
	detected_amount    DOUBLE PRECISION,
	detected_reference TEXT,
	match              BOOLEAN,
	amount_match       BOOLEAN,
	review_trail       JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_slips_status ON slips(status);
CREATE INDEX IF NOT EXISTS idx_slips_source ON slips(source);
CREATE INDEX IF NOT EXISTS idx_slips_created_at ON slips(created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSlip(ctx context.Context, rec *model.SlipRecord) (*model.SlipRecord, error) {
	out := *rec
	if out.ID == "" {
		out.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now
	if out.Status == "" {
		out.Status = model.StatusPending
	}

	trailJSON, err := marshalTrail(out.ReviewTrail)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO slips (id, filename, file_url, source, uploaded_by, status, ocr_text,
			ocr_confidence, expected_amount, detected_amount, detected_reference,
			match, amount_match, review_trail, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		out.ID, out.Filename, out.FileURL, string(out.Source), out.UploadedBy,
		string(out.Status), out.OCRText, out.OCRConfidence, out.ExpectedAmount,
		out.DetectedAmount, out.DetectedReference, out.Match, out.AmountMatch,
		trailJSON, out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert slip")
	}
	return &out, nil
}

func (s *PostgresStore) GetSlip(ctx context.Context, id string) (*model.SlipRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+slipColumns+` FROM slips WHERE id = $1`, id)

	rec, err := scanSlip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get slip %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListSlips(ctx context.Context, filter SlipFilter) ([]model.SlipRecord, int, error) {
	where := ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Source != "" {
		where += fmt.Sprintf(` AND source = $%d`, argIdx)
		args = append(args, string(filter.Source))
		argIdx++
	}
	if filter.DateFrom != nil {
		where += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, *filter.DateFrom)
		argIdx++
	}
	if filter.DateTo != nil {
		where += fmt.Sprintf(` AND created_at <= $%d`, argIdx)
		args = append(args, *filter.DateTo)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM slips`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "postgres: count slips")
	}

	limit, offset := pageBounds(filter)
	query := `SELECT ` + slipColumns + ` FROM slips` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "postgres: list slips")
	}
	defer rows.Close()

	var slips []model.SlipRecord
	for rows.Next() {
		rec, err := scanSlip(rows)
		if err != nil {
			return nil, 0, eris.Wrap(err, "postgres: scan slip")
		}
		slips = append(slips, *rec)
	}
	return slips, total, eris.Wrap(rows.Err(), "postgres: list slips iterate")
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status model.SlipStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE slips SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetValidation(ctx context.Context, id string, upd ValidationUpdate) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE slips SET status = $1, ocr_text = $2, ocr_confidence = $3,
			detected_amount = $4, detected_reference = $5, match = $6,
			amount_match = $7, updated_at = $8
		 WHERE id = $9`,
		string(upd.Status), upd.OCRText, upd.OCRConfidence, upd.DetectedAmount,
		upd.DetectedReference, upd.Match, upd.AmountMatch, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set validation %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendReviewEvents(ctx context.Context, id string, events ...model.ReviewEvent) error {
	if len(events) == 0 {
		return nil
	}
	for i := range events {
		if events[i].At.IsZero() {
			events[i].At = time.Now().UTC()
		}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal review events")
	}

	// Append server-side so concurrent annotations are never dropped.
	tag, err := s.pool.Exec(ctx,
		`UPDATE slips SET review_trail = review_trail || $1::jsonb, updated_at = $2 WHERE id = $3`,
		eventsJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: append review events %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// slipRow abstracts pgx.Row and pgx.Rows for scanSlip.
type slipRow interface {
	Scan(dest ...any) error
}

func scanSlip(row slipRow) (*model.SlipRecord, error) {
	var (
		rec       model.SlipRecord
		source    string
		status    string
		trailJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Filename, &rec.FileURL, &source, &rec.UploadedBy, &status,
		&rec.OCRText, &rec.OCRConfidence, &rec.ExpectedAmount, &rec.DetectedAmount,
		&rec.DetectedReference, &rec.Match, &rec.AmountMatch, &trailJSON,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Source = model.Source(source)
	rec.Status = model.SlipStatus(status)
	if len(trailJSON) > 0 {
		if err := json.Unmarshal(trailJSON, &rec.ReviewTrail); err != nil {
			return nil, eris.Wrap(err, "unmarshal review trail")
		}
	}
	return &rec, nil
}

func marshalTrail(trail []model.ReviewEvent) ([]byte, error) {
	if trail == nil {
		return []byte("[]"), nil
	}
	b, err := json.Marshal(trail)
	if err != nil {
		return nil, eris.Wrap(err, "marshal review trail")
	}
	return b, nil
}
