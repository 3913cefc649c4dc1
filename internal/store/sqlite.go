package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/transferdesk/slipcheck/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS slips (
	id                 TEXT PRIMARY KEY,
	filename           TEXT NOT NULL,
	file_url           TEXT NOT NULL DEFAULT '',
	source             TEXT NOT NULL,
	uploaded_by        TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL DEFAULT 'pending',
	ocr_text           TEXT NOT NULL DEFAULT '',
	ocr_confidence     REAL,
	expected_amount    REAL,
	detected_amount    REAL,
	detected_reference TEXT,
	match              INTEGER,
	amount_match       INTEGER,
	review_trail       TEXT NOT NULL DEFAULT '[]',
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_slips_status ON slips(status);
CREATE INDEX IF NOT EXISTS idx_slips_source ON slips(source);
CREATE INDEX IF NOT EXISTS idx_slips_created_at ON slips(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSlip(ctx context.Context, rec *model.SlipRecord) (*model.SlipRecord, error) {
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

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO slips (id, filename, file_url, source, uploaded_by, status, ocr_text,
			ocr_confidence, expected_amount, detected_amount, detected_reference,
			match, amount_match, review_trail, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.Filename, out.FileURL, string(out.Source), out.UploadedBy,
		string(out.Status), out.OCRText, out.OCRConfidence, out.ExpectedAmount,
		out.DetectedAmount, out.DetectedReference, boolPtrToInt(out.Match),
		boolPtrToInt(out.AmountMatch), string(trailJSON), out.CreatedAt, out.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert slip")
	}
	return &out, nil
}

func (s *SQLiteStore) GetSlip(ctx context.Context, id string) (*model.SlipRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+slipColumns+` FROM slips WHERE id = ?`, id)

	rec, err := scanSQLiteSlip(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get slip %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListSlips(ctx context.Context, filter SlipFilter) ([]model.SlipRecord, int, error) {
	where := ` WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Source != "" {
		where += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.DateFrom != nil {
		where += ` AND created_at >= ?`
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where += ` AND created_at <= ?`
		args = append(args, *filter.DateTo)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM slips`+where, args...).Scan(&total); err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: count slips")
	}

	limit, offset := pageBounds(filter)
	query := `SELECT ` + slipColumns + ` FROM slips` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, eris.Wrap(err, "sqlite: list slips")
	}
	defer rows.Close()

	var slips []model.SlipRecord
	for rows.Next() {
		rec, err := scanSQLiteSlip(rows.Scan)
		if err != nil {
			return nil, 0, eris.Wrap(err, "sqlite: scan slip")
		}
		slips = append(slips, *rec)
	}
	return slips, total, eris.Wrap(rows.Err(), "sqlite: list slips iterate")
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status model.SlipStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE slips SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", id)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) SetValidation(ctx context.Context, id string, upd ValidationUpdate) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE slips SET status = ?, ocr_text = ?, ocr_confidence = ?,
			detected_amount = ?, detected_reference = ?, match = ?,
			amount_match = ?, updated_at = ?
		 WHERE id = ?`,
		string(upd.Status), upd.OCRText, upd.OCRConfidence, upd.DetectedAmount,
		upd.DetectedReference, boolPtrToInt(upd.Match), boolPtrToInt(upd.AmountMatch),
		time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set validation %s", id)
	}
	return checkAffected(res)
}

func (s *SQLiteStore) AppendReviewEvents(ctx context.Context, id string, events ...model.ReviewEvent) error {
	if len(events) == 0 {
		return nil
	}

	// SQLite has no jsonb concat, so append inside a transaction.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	var trailJSON string
	err = tx.QueryRowContext(ctx, `SELECT review_trail FROM slips WHERE id = ?`, id).Scan(&trailJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return eris.Wrapf(err, "sqlite: read review trail %s", id)
	}

	var trail []model.ReviewEvent
	if trailJSON != "" {
		if err := json.Unmarshal([]byte(trailJSON), &trail); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal review trail")
		}
	}
	for _, ev := range events {
		if ev.At.IsZero() {
			ev.At = time.Now().UTC()
		}
		trail = append(trail, ev)
	}
	merged, err := json.Marshal(trail)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal review trail")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE slips SET review_trail = ?, updated_at = ? WHERE id = ?`,
		string(merged), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: append review events %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

// scanSQLiteSlip mirrors scanSlip for database/sql, where booleans arrive as
// nullable integers.
func scanSQLiteSlip(scan func(dest ...any) error) (*model.SlipRecord, error) {
	var (
		rec         model.SlipRecord
		source      string
		status      string
		match       sql.NullInt64
		amountMatch sql.NullInt64
		trailJSON   string
	)
	err := scan(
		&rec.ID, &rec.Filename, &rec.FileURL, &source, &rec.UploadedBy, &status,
		&rec.OCRText, &rec.OCRConfidence, &rec.ExpectedAmount, &rec.DetectedAmount,
		&rec.DetectedReference, &match, &amountMatch, &trailJSON,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Source = model.Source(source)
	rec.Status = model.SlipStatus(status)
	rec.Match = intToBoolPtr(match)
	rec.AmountMatch = intToBoolPtr(amountMatch)
	if trailJSON != "" {
		if err := json.Unmarshal([]byte(trailJSON), &rec.ReviewTrail); err != nil {
			return nil, eris.Wrap(err, "unmarshal review trail")
		}
	}
	return &rec, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolPtrToInt(b *bool) *int64 {
	if b == nil {
		return nil
	}
	v := int64(0)
	if *b {
		v = 1
	}
	return &v
}

func intToBoolPtr(n sql.NullInt64) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Int64 != 0
	return &v
}
