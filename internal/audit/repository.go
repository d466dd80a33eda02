package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Page size limits for List.
const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// createdAtLayout keeps created_at fixed-width so text order matches time
// order for ORDER BY and the Since comparison. Values are always UTC.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Filter controls which journal records to return.
type Filter struct {
	Outcome   string    // optional: matched, no_match, service_error
	SubjectID string    // optional: records for one subject
	DeviceID  string    // optional: records from one kiosk
	Since     time.Time // optional: records at or after this instant
	Limit     int       // default 50, max 200
	Offset    int       // pagination offset
}

// ListResult contains the paginated journal results.
type ListResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Repository defines the interface for the local attempt journal.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores attempts in the auth_attempts table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a record. The ID and Timestamp are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_attempts (id, subject_id, success, outcome, reason, device_id, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullableString(rec.SubjectID), rec.Success, rec.Outcome,
		nullableString(rec.Reason), rec.DeviceID, rec.LatencyMS,
		rec.Timestamp.UTC().Format(createdAtLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting auth attempt: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings so they are stored as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Get returns one record by ID, or ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, subject_id, success, outcome, reason, device_id, latency_ms, created_at
		 FROM auth_attempts WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns records matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit // dynamic query builder: WHERE clause assembly from filter fields
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	if filter.SubjectID != "" {
		conditions = append(conditions, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(createdAtLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM auth_attempts %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting auth attempts: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, subject_id, success, outcome, reason, device_id, latency_ms, created_at
		 FROM auth_attempts %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying auth attempts: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating auth attempts: %w", err)
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one auth_attempts row.
func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var subjectID, reason sql.NullString
	var createdAt string

	if err := row.Scan(&rec.ID, &subjectID, &rec.Success, &rec.Outcome,
		&reason, &rec.DeviceID, &rec.LatencyMS, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning auth attempt: %w", err)
	}

	if subjectID.Valid {
		rec.SubjectID = subjectID.String
	}
	if reason.Valid {
		rec.Reason = reason.String
	}

	t, err := time.Parse(createdAtLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing auth attempt timestamp %q: %w", createdAt, err)
	}
	rec.Timestamp = t

	return &rec, nil
}
