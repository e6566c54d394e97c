// Package ledger is the durable record of every notification ever seen
// and its processing status. It is the single authority for "has this
// notification already been handled".
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"mention_bot/internal/model"
	"mention_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Ledger is the SQLite-backed notification record store.
type Ledger struct {
	db *sql.DB

	closeOnce sync.Once
	closeErr  error
}

// Open opens a SQLite database at dsn and runs pending migrations.
func Open(dsn string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the underlying database connection. Safe to call more
// than once; subsequent calls return the first result.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.db.Close()
	})
	return l.closeErr
}

// Add records a notification as pending. Returns false without error
// for a nil notification or an empty URI: malformed upstream input must
// not crash the polling loop. A duplicate URI is a no-op that still
// reports true, so inserts are idempotent.
func (l *Ledger) Add(ctx context.Context, n *model.Notification) (bool, error) {
	if !n.Valid() {
		return false, nil
	}

	text := n.Text()
	if len(text) > 500 {
		text = text[:500]
	}
	var handle, did string
	if n.Author != nil {
		handle = n.Author.Handle
		did = n.Author.DID
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications
		 (uri, indexed_at, reason, author_handle, author_did, text, status)
		 VALUES (?, ?, ?, ?, ?, ?, 'pending')`,
		n.URI, n.IndexedAt, n.Reason, handle, did, text,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return true, nil
}

// IsProcessed reports whether the notification has left the pending
// state. An unknown URI has never been seen and is therefore not
// processed.
func (l *Ledger) IsProcessed(ctx context.Context, uri string) (bool, error) {
	var status string
	err := l.db.QueryRowContext(ctx,
		`SELECT status FROM notifications WHERE uri = ?`, uri,
	).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query status: %w", err)
	}
	return model.Status(status) != model.StatusPending, nil
}

// MarkProcessed sets the terminal status, error detail, and processing
// timestamp for a URI. Last write wins; an unknown URI is a no-op since
// callers may race with pruning.
func (l *Ledger) MarkProcessed(ctx context.Context, uri string, status model.Status, errDetail string) error {
	var detail *string
	if errDetail != "" {
		detail = &errDetail
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, processed_at = ?, error = ? WHERE uri = ?`,
		string(status), time.Now().UTC().Format(timeLayout), detail, uri,
	)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// Get returns a single record by URI.
func (l *Ledger) Get(ctx context.Context, uri string) (*model.Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT uri, indexed_at, author_handle, author_did, text, reason, status, error, processed_at
		 FROM notifications WHERE uri = ?`, uri,
	)
	r, err := scanRecord(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Unprocessed returns pending records in discovery order (indexed_at
// ascending). A limit of zero or less returns all of them.
func (l *Ledger) Unprocessed(ctx context.Context, limit int) ([]model.Record, error) {
	q := `SELECT uri, indexed_at, author_handle, author_did, text, reason, status, error, processed_at
	      FROM notifications WHERE status = 'pending' ORDER BY indexed_at ASC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

// LatestProcessedTime returns the maximum indexed_at among handled
// (processed or ignored) records, for use as the next fetch window's
// high-water mark. Empty when nothing has been handled yet.
func (l *Ledger) LatestProcessedTime(ctx context.Context) (string, error) {
	var latest sql.NullString
	err := l.db.QueryRowContext(ctx,
		`SELECT MAX(indexed_at) FROM notifications WHERE status IN ('processed', 'ignored')`,
	).Scan(&latest)
	if err != nil {
		return "", fmt.Errorf("query latest processed time: %w", err)
	}
	if !latest.Valid {
		return "", nil
	}
	return latest.String, nil
}

// CleanupOldRecords deletes handled records whose indexed_at is older
// than the cutoff. Pending records are never pruned regardless of age:
// losing track of an unprocessed notification would break the
// at-least-once guarantee. Returns the number of rows removed.
func (l *Ledger) CleanupOldRecords(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(timeLayout)

	res, err := l.db.ExecContext(ctx,
		`DELETE FROM notifications
		 WHERE indexed_at < ? AND status IN ('processed', 'ignored', 'error')`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup old records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	if deleted > 0 {
		if _, err := l.db.ExecContext(ctx, "VACUUM"); err != nil {
			return deleted, fmt.Errorf("vacuum: %w", err)
		}
	}
	return deleted, nil
}

// Stats returns the total record count and per-status breakdown.
func (l *Ledger) Stats(ctx context.Context) (model.LedgerStats, error) {
	var stats model.LedgerStats

	rows, err := l.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM notifications GROUP BY status`,
	)
	if err != nil {
		return stats, fmt.Errorf("query stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += count
		switch model.Status(status) {
		case model.StatusPending:
			stats.Pending = count
		case model.StatusProcessed:
			stats.Processed = count
		case model.StatusIgnored:
			stats.Ignored = count
		case model.StatusError:
			stats.Error = count
		}
	}
	return stats, rows.Err()
}

// ProcessedURIs returns the set of handled URIs (processed or ignored;
// error and pending records are excluded) for fast duplicate-skip
// checks against freshly fetched batches.
func (l *Ledger) ProcessedURIs(ctx context.Context, limit int) (map[string]struct{}, error) {
	q := `SELECT uri FROM notifications WHERE status IN ('processed', 'ignored')
	      ORDER BY processed_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query processed uris: %w", err)
	}
	defer func() { _ = rows.Close() }()

	uris := make(map[string]struct{})
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan uri: %w", err)
		}
		uris[uri] = struct{}{}
	}
	return uris, rows.Err()
}

// StartSession opens a new session row for a polling run and returns
// its ID.
func (l *Ledger) StartSession(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT INTO sessions (started_at) VALUES (?)`,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// UpdateSession adds incremental deltas to a session's counters.
func (l *Ledger) UpdateSession(ctx context.Context, id int64, processed, skipped, errored int) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE sessions
		 SET notifications_processed = notifications_processed + ?,
		     notifications_skipped = notifications_skipped + ?,
		     notifications_error = notifications_error + ?
		 WHERE id = ?`,
		processed, skipped, errored, id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// EndSession closes a session.
func (l *Ledger) EndSession(ctx context.Context, id int64) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// GetSession returns a session row by ID.
func (l *Ledger) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT id, started_at, ended_at, notifications_processed,
		        notifications_skipped, notifications_error
		 FROM sessions WHERE id = ?`, id,
	)

	var s model.Session
	var started string
	var ended sql.NullString
	err := row.Scan(&s.ID, &started, &ended, &s.Processed, &s.Skipped, &s.Errors)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	s.StartedAt, _ = time.Parse(timeLayout, started)
	if ended.Valid {
		t, _ := time.Parse(timeLayout, ended.String)
		s.EndedAt = &t
	}
	return &s, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (model.Record, error) {
	var r model.Record
	var handle, did, text, reason, errDetail, processed sql.NullString
	var status string
	err := row.Scan(&r.URI, &r.IndexedAt, &handle, &did, &text, &reason, &status, &errDetail, &processed)
	if err != nil {
		return r, fmt.Errorf("scan record: %w", err)
	}
	r.AuthorHandle = handle.String
	r.AuthorDID = did.String
	r.Text = text.String
	r.Reason = reason.String
	r.Status = model.Status(status)
	r.Error = errDetail.String
	if processed.Valid {
		t, _ := time.Parse(timeLayout, processed.String)
		r.ProcessedAt = &t
	}
	return r, nil
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
