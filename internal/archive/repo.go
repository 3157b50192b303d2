// Package archive keeps an append-only SQL copy of logged entries and resolutions for reporting.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"netoffice/internal/approval"
	"netoffice/internal/attendance"
	"netoffice/internal/geo"
	"netoffice/internal/store"
)

// Repository writes archive rows through database/sql.
type Repository struct {
	db     *sql.DB
	driver string
}

// NewRepository creates a repo for db opened with driver.
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, driver: driver}
}

// Migrate creates the archive tables.
func (r *Repository) Migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if r.driver == store.DriverSQLite {
		ts = "TIMESTAMP"
	}
	schema := []string{
		`CREATE TABLE IF NOT EXISTS attendance_log (
			id                TEXT PRIMARY KEY,
			owner             TEXT NOT NULL,
			work_date         TEXT NOT NULL,
			started_at        ` + ts + ` NOT NULL,
			ended_at          ` + ts + ` NOT NULL,
			duration_seconds  BIGINT NOT NULL,
			location_verified BOOLEAN NOT NULL,
			latitude          DOUBLE PRECISION,
			longitude         DOUBLE PRECISION,
			accuracy_m        DOUBLE PRECISION,
			quality           TEXT NOT NULL DEFAULT '',
			location_error    TEXT NOT NULL DEFAULT '',
			certificate       TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attendance_log_owner ON attendance_log(owner, started_at)`,
		`CREATE TABLE IF NOT EXISTS approval_resolutions (
			request_id   TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			subject_name TEXT NOT NULL,
			category     TEXT NOT NULL DEFAULT '',
			status       TEXT NOT NULL,
			reason       TEXT NOT NULL,
			submitted_at ` + ts + ` NOT NULL,
			resolved_at  ` + ts + ` NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// InsertEntry archives a log entry. Re-delivery of the same entry is a no-op.
func (r *Repository) InsertEntry(ctx context.Context, e attendance.LogEntry) error {
	var lat, lng, acc sql.NullFloat64
	if e.Coordinates != nil {
		lat = sql.NullFloat64{Float64: e.Coordinates.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: e.Coordinates.Longitude, Valid: true}
	}
	if e.AccuracyMeters != nil {
		acc = sql.NullFloat64{Float64: *e.AccuracyMeters, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attendance_log (id, owner, work_date, started_at, ended_at, duration_seconds,
			location_verified, latitude, longitude, accuracy_m, quality, location_error, certificate)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.Owner, e.Date, e.StartedAt.UTC(), e.EndedAt.UTC(), int64(e.TotalDuration/time.Second),
		e.LocationVerified, lat, lng, acc, string(e.Quality), e.LocationError.String(), e.Certificate)
	return err
}

// ListEntries returns archived entries, newest first. An empty owner lists everyone.
func (r *Repository) ListEntries(ctx context.Context, owner string, limit, offset int) ([]attendance.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, owner, work_date, started_at, ended_at, duration_seconds, location_verified,
		latitude, longitude, accuracy_m, quality, location_error, certificate FROM attendance_log`
	var args []any
	if owner != "" {
		query += " WHERE owner = $1"
		args = append(args, owner)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []attendance.LogEntry
	for rows.Next() {
		var (
			e             attendance.LogEntry
			seconds       int64
			lat, lng, acc sql.NullFloat64
			quality, kind string
		)
		if err := rows.Scan(&e.ID, &e.Owner, &e.Date, &e.StartedAt, &e.EndedAt, &seconds, &e.LocationVerified,
			&lat, &lng, &acc, &quality, &kind, &e.Certificate); err != nil {
			return nil, err
		}
		e.TotalDuration = time.Duration(seconds) * time.Second
		e.Quality = geo.Quality(quality)
		if err := e.LocationError.UnmarshalText([]byte(kind)); err != nil {
			return nil, err
		}
		if lat.Valid && lng.Valid {
			e.Coordinates = &attendance.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64}
		}
		if acc.Valid {
			v := acc.Float64
			e.AccuracyMeters = &v
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// InsertResolution archives a resolved request. Pending requests are refused.
func (r *Repository) InsertResolution(ctx context.Context, req approval.Request) error {
	if req.Status == approval.Pending || req.ResolvedAt == nil {
		return fmt.Errorf("request %s is not resolved", req.ID)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_resolutions (request_id, kind, subject_name, category, status, reason, submitted_at, resolved_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (request_id) DO NOTHING
	`, req.ID, string(req.Kind), req.SubjectName, req.Category, string(req.Status), req.ResolutionReason,
		req.SubmittedAt.UTC(), req.ResolvedAt.UTC())
	return err
}

// Resolution is an archived approval outcome.
type Resolution struct {
	RequestID   string          `json:"request_id"`
	Kind        approval.Kind   `json:"kind"`
	SubjectName string          `json:"subject_name"`
	Category    string          `json:"category"`
	Status      approval.Status `json:"status"`
	Reason      string          `json:"reason"`
	SubmittedAt time.Time       `json:"submitted_at"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

// ListResolutions returns archived resolutions with the given statuses, newest first.
func (r *Repository) ListResolutions(ctx context.Context, limit int, statuses ...approval.Status) ([]Resolution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT request_id, kind, subject_name, category, status, reason, submitted_at, resolved_at FROM approval_resolutions`
	var args []any
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, s := range statuses {
			args = append(args, string(s))
			marks[i] = fmt.Sprintf("$%d", i+1)
		}
		query += " WHERE status IN (" + strings.Join(marks, ", ") + ")"
	}
	query += fmt.Sprintf(" ORDER BY resolved_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Resolution
	for rows.Next() {
		var (
			rv           Resolution
			kind, status string
		)
		if err := rows.Scan(&rv.RequestID, &kind, &rv.SubjectName, &rv.Category, &status, &rv.Reason, &rv.SubmittedAt, &rv.ResolvedAt); err != nil {
			return nil, err
		}
		rv.Kind = approval.Kind(kind)
		rv.Status = approval.Status(status)
		res = append(res, rv)
	}
	return res, rows.Err()
}
