// Package store persists log entries in a single SQLite database with an
// FTS5 index over the message text. All operations are serialized under
// one mutex; insert subscribers run synchronously inside that guard so
// observers see inserts in commit order.
package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vburojevic/uelog/internal/diag"
	"github.com/vburojevic/uelog/internal/domain"
)

const component = "Store"

// StorageError wraps a persistence or index failure. These are the only
// errors that propagate out of an insert; everything else in the
// ingestion plane recovers locally.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// InputError reports a caller mistake, such as a malformed full-text
// query. It never indicates a problem with the database.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return e.Msg
}

// Subscriber is invoked exactly once per successful insert with the
// fully populated entry, before Insert returns.
type Subscriber func(domain.Entry)

// Store is the durable, searchable log repository.
type Store struct {
	mu          sync.Mutex
	db          *sql.DB
	subscribers []Subscriber
}

// Open opens (or creates) the database at path, enables WAL journaling
// with normal-synchronous durability, and ensures the schema exists.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000",
		url.PathEscape(path))

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	// A single connection keeps all statements on the same SQLite handle;
	// the store mutex serializes access anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Err: err}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			category TEXT NOT NULL,
			verbosity INTEGER NOT NULL,
			message TEXT NOT NULL,
			timestamp REAL NOT NULL,
			frame INTEGER,
			file TEXT,
			line INTEGER,
			received_at REAL NOT NULL,
			session_id TEXT NOT NULL,
			instance_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_source ON logs(source)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_verbosity ON logs(verbosity)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_category ON logs(category)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_received ON logs(received_at)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_session ON logs(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_instance ON logs(instance_id)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_session_instance ON logs(session_id, instance_id)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS logs_fts USING fts5(
			message,
			content='logs',
			content_rowid='id'
		)`,
		`CREATE TRIGGER IF NOT EXISTS logs_ai AFTER INSERT ON logs BEGIN
			INSERT INTO logs_fts(rowid, message) VALUES (new.id, new.message);
		END`,
		`CREATE TRIGGER IF NOT EXISTS logs_ad AFTER DELETE ON logs BEGIN
			INSERT INTO logs_fts(logs_fts, rowid, message) VALUES('delete', old.id, old.message);
		END`,
		`CREATE TRIGGER IF NOT EXISTS logs_au AFTER UPDATE ON logs BEGIN
			INSERT INTO logs_fts(logs_fts, rowid, message) VALUES('delete', old.id, old.message);
			INSERT INTO logs_fts(rowid, message) VALUES (new.id, new.message);
		END`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return &StorageError{Op: "init schema", Err: err}
		}
	}
	return nil
}

// Subscribe registers a callback for post-insert notification. Callbacks
// run in registration order, synchronously inside Insert.
func (s *Store) Subscribe(fn Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Insert persists an entry, assigning its id and, when ReceivedAt is
// zero, stamping the current time. Subscribers are notified with the
// populated entry before Insert returns; a panicking subscriber is
// reported to the diagnostic sink and does not abort the insert.
func (s *Store) Insert(entry domain.Entry) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ReceivedAt == 0 {
		entry.ReceivedAt = float64(time.Now().UnixNano()) / 1e9
	}

	res, err := s.db.Exec(
		`INSERT INTO logs (source, category, verbosity, message, timestamp, frame, file, line, received_at, session_id, instance_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Source, entry.Category, int(entry.Verbosity), entry.Message, entry.Timestamp,
		nullableInt64(entry.Frame), nullableString(entry.File), nullableInt(entry.Line),
		entry.ReceivedAt, entry.SessionID, entry.InstanceID,
	)
	if err != nil {
		return 0, &StorageError{Op: "insert", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "insert", Err: err}
	}
	entry.ID = id

	for _, fn := range s.subscribers {
		s.notify(fn, entry)
	}

	return id, nil
}

func (s *Store) notify(fn Subscriber, entry domain.Entry) {
	defer func() {
		if r := recover(); r != nil {
			diag.Errorf(component, "subscriber panic: %v", r)
		}
	}()
	fn(entry)
}

// latestSessionPredicate scopes a query to the session of the entry with
// the greatest received_at, greatest id winning ties.
const latestSessionPredicate = `(SELECT session_id FROM logs ORDER BY received_at DESC, id DESC LIMIT 1)`

// Query returns entries matching the filter, newest emit time first,
// later inserts first among equal timestamps.
func (s *Store) Query(filter domain.Filter) ([]domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queryLocked(filter)
}

func (s *Store) queryLocked(filter domain.Filter) ([]domain.Entry, error) {
	filter = filter.Normalize()

	var sb strings.Builder
	sb.WriteString(`SELECT id, source, category, verbosity, message, timestamp, frame, file, line, received_at, session_id, instance_id FROM logs WHERE 1=1`)
	args := appendFilterClauses(&sb, filter, "")

	sb.WriteString(" ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Search runs a full-text match over message text, then applies the
// filter. The query syntax is the FTS5 dialect: implicit AND, OR, NOT,
// quoted phrases and trailing-* prefixes. A malformed query is an input
// error, never a storage error.
func (s *Store) Search(query string, filter domain.Filter) ([]domain.Entry, error) {
	match, err := normalizeMatchQuery(query)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filter = filter.Normalize()

	var sb strings.Builder
	sb.WriteString(`SELECT l.id, l.source, l.category, l.verbosity, l.message, l.timestamp, l.frame, l.file, l.line, l.received_at, l.session_id, l.instance_id
		FROM logs l
		JOIN logs_fts fts ON l.id = fts.rowid
		WHERE logs_fts MATCH ?`)
	args := []any{match}
	args = append(args, appendFilterClauses(&sb, filter, "l.")...)

	sb.WriteString(" ORDER BY l.timestamp DESC, l.id DESC LIMIT ? OFFSET ?")
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.db.Query(sb.String(), args...)
	if err != nil {
		if isFTSSyntaxError(err) {
			return nil, &InputError{Msg: fmt.Sprintf("invalid search query %q: %v", query, err)}
		}
		return nil, &StorageError{Op: "search", Err: err}
	}
	defer rows.Close()

	return scanEntries(rows)
}

// appendFilterClauses writes the WHERE conditions shared by Query and
// Search. prefix qualifies column names when the statement joins tables.
func appendFilterClauses(sb *strings.Builder, filter domain.Filter, prefix string) []any {
	var args []any

	switch {
	case filter.SessionID != nil:
		fmt.Fprintf(sb, " AND %ssession_id = ?", prefix)
		args = append(args, *filter.SessionID)
	case !filter.AllSessions:
		fmt.Fprintf(sb, " AND %ssession_id = %s", prefix, latestSessionPredicate)
	}

	if filter.InstanceID != nil {
		fmt.Fprintf(sb, " AND %sinstance_id = ?", prefix)
		args = append(args, *filter.InstanceID)
	}
	if filter.Source != nil {
		fmt.Fprintf(sb, " AND %ssource = ?", prefix)
		args = append(args, *filter.Source)
	}
	if filter.MinVerbosity != nil {
		fmt.Fprintf(sb, " AND %sverbosity <= ?", prefix)
		args = append(args, int(*filter.MinVerbosity))
	}
	if filter.Category != nil {
		fmt.Fprintf(sb, " AND %scategory = ?", prefix)
		args = append(args, *filter.Category)
	}
	if filter.Since != nil {
		fmt.Fprintf(sb, " AND %stimestamp >= ?", prefix)
		args = append(args, *filter.Since)
	}
	if filter.Until != nil {
		fmt.Fprintf(sb, " AND %stimestamp <= ?", prefix)
		args = append(args, *filter.Until)
	}

	return args
}

func scanEntries(rows *sql.Rows) ([]domain.Entry, error) {
	var entries []domain.Entry
	for rows.Next() {
		var (
			e         domain.Entry
			verbosity int
			frame     sql.NullInt64
			file      sql.NullString
			line      sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Category, &verbosity, &e.Message, &e.Timestamp,
			&frame, &file, &line, &e.ReceivedAt, &e.SessionID, &e.InstanceID); err != nil {
			return nil, &StorageError{Op: "scan", Err: err}
		}
		e.Verbosity = domain.Verbosity(verbosity)
		if frame.Valid {
			v := frame.Int64
			e.Frame = &v
		}
		if file.Valid {
			v := file.String
			e.File = &v
		}
		if line.Valid {
			v := int(line.Int64)
			e.Line = &v
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "scan", Err: err}
	}
	return entries, nil
}

// Stats aggregates counts across the stored entries, optionally scoped
// by source and an emit-time lower bound. CurrentSession is always
// global, regardless of the scope filters.
func (s *Store) Stats(source *string, since *float64) (domain.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	where := " WHERE 1=1"
	var args []any
	if source != nil {
		where += " AND source = ?"
		args = append(args, *source)
	}
	if since != nil {
		where += " AND timestamp >= ?"
		args = append(args, *since)
	}

	stats := domain.Stats{
		BySource:   map[string]int64{},
		ByCategory: map[string]int64{},
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM logs"+where, args...).Scan(&stats.Total); err != nil {
		return stats, &StorageError{Op: "stats", Err: err}
	}

	rows, err := s.db.Query("SELECT source, COUNT(*) FROM logs"+where+" GROUP BY source", args...)
	if err != nil {
		return stats, &StorageError{Op: "stats", Err: err}
	}
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			rows.Close()
			return stats, &StorageError{Op: "stats", Err: err}
		}
		stats.BySource[src] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, &StorageError{Op: "stats", Err: err}
	}
	rows.Close()

	// Fatal and Error are the two most severe ordinals; Warning is
	// counted exactly, not as a threshold.
	if err := s.db.QueryRow("SELECT COUNT(*) FROM logs"+where+" AND verbosity <= 2", args...).Scan(&stats.Errors); err != nil {
		return stats, &StorageError{Op: "stats", Err: err}
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM logs"+where+" AND verbosity = 3", args...).Scan(&stats.Warnings); err != nil {
		return stats, &StorageError{Op: "stats", Err: err}
	}

	rows, err = s.db.Query("SELECT category, COUNT(*) FROM logs"+where+" GROUP BY category ORDER BY COUNT(*) DESC LIMIT 20", args...)
	if err != nil {
		return stats, &StorageError{Op: "stats", Err: err}
	}
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return stats, &StorageError{Op: "stats", Err: err}
		}
		stats.ByCategory[cat] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return stats, &StorageError{Op: "stats", Err: err}
	}
	rows.Close()

	if err := s.db.QueryRow("SELECT COUNT(DISTINCT session_id) FROM logs"+where, args...).Scan(&stats.SessionCount); err != nil {
		return stats, &StorageError{Op: "stats", Err: err}
	}
	if err := s.db.QueryRow("SELECT COUNT(DISTINCT instance_id) FROM logs"+where, args...).Scan(&stats.InstanceCount); err != nil {
		return stats, &StorageError{Op: "stats", Err: err}
	}

	current, err := s.latestSessionLocked(nil)
	if err != nil {
		return stats, err
	}
	stats.CurrentSession = current

	return stats, nil
}

// Categories returns the distinct category names, sorted, optionally
// restricted to one source.
func (s *Store) Categories(source *string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT DISTINCT category FROM logs"
	var args []any
	if source != nil {
		query += " WHERE source = ?"
		args = append(args, *source)
	}
	query += " ORDER BY category"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "categories", Err: err}
	}
	defer rows.Close()

	var categories []string
	for rows.Next() {
		var cat string
		if err := rows.Scan(&cat); err != nil {
			return nil, &StorageError{Op: "categories", Err: err}
		}
		categories = append(categories, cat)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "categories", Err: err}
	}
	return categories, nil
}

// Sessions lists session summaries, most recently active first, each
// enriched with its distinct instance ids. The source filter applies to
// both the summaries and the instance lists.
func (s *Store) Sessions(source *string) ([]domain.SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT session_id, MIN(received_at), MAX(received_at), COUNT(*) FROM logs`
	var args []any
	if source != nil {
		query += " WHERE source = ?"
		args = append(args, *source)
	}
	query += " GROUP BY session_id ORDER BY MAX(received_at) DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StorageError{Op: "sessions", Err: err}
	}

	var sessions []domain.SessionInfo
	for rows.Next() {
		var info domain.SessionInfo
		if err := rows.Scan(&info.SessionID, &info.FirstSeen, &info.LastSeen, &info.LogCount); err != nil {
			rows.Close()
			return nil, &StorageError{Op: "sessions", Err: err}
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &StorageError{Op: "sessions", Err: err}
	}
	rows.Close()

	for i := range sessions {
		instQuery := "SELECT DISTINCT instance_id FROM logs WHERE session_id = ?"
		instArgs := []any{sessions[i].SessionID}
		if source != nil {
			instQuery += " AND source = ?"
			instArgs = append(instArgs, *source)
		}

		instRows, err := s.db.Query(instQuery, instArgs...)
		if err != nil {
			return nil, &StorageError{Op: "sessions", Err: err}
		}
		for instRows.Next() {
			var inst string
			if err := instRows.Scan(&inst); err != nil {
				instRows.Close()
				return nil, &StorageError{Op: "sessions", Err: err}
			}
			sessions[i].Instances = append(sessions[i].Instances, inst)
		}
		if err := instRows.Err(); err != nil {
			instRows.Close()
			return nil, &StorageError{Op: "sessions", Err: err}
		}
		instRows.Close()
	}

	return sessions, nil
}

// LatestSession returns the session_id of the most recently received
// entry, or "" when the store is empty.
func (s *Store) LatestSession(source *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestSessionLocked(source)
}

func (s *Store) latestSessionLocked(source *string) (string, error) {
	query := "SELECT session_id FROM logs"
	var args []any
	if source != nil {
		query += " WHERE source = ?"
		args = append(args, *source)
	}
	query += " ORDER BY received_at DESC, id DESC LIMIT 1"

	var session string
	err := s.db.QueryRow(query, args...).Scan(&session)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", &StorageError{Op: "latest session", Err: err}
	}
	return session, nil
}

// Clear deletes entries, optionally restricted to one source and to
// emit times strictly before a cutoff. The FTS index rows are removed by
// the delete trigger in the same statement. Returns the number deleted.
func (s *Store) Clear(source *string, before *float64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "DELETE FROM logs WHERE 1=1"
	var args []any
	if source != nil {
		query += " AND source = ?"
		args = append(args, *source)
	}
	if before != nil {
		query += " AND timestamp < ?"
		args = append(args, *before)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, &StorageError{Op: "clear", Err: err}
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, &StorageError{Op: "clear", Err: err}
	}
	return deleted, nil
}

// Count returns the number of stored entries.
func (s *Store) Count() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM logs").Scan(&n); err != nil {
		return 0, &StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func isFTSSyntaxError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "fts5: syntax error") ||
		strings.Contains(msg, "malformed MATCH expression") ||
		strings.Contains(msg, "unterminated string")
}
