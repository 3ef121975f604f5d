package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

// SQLiteRepository implements Repository on a SQLite database. The full
// ticket document is stored as JSON; the columns used for filtering are
// denormalized alongside it.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) a SQLite database and runs
// migrations.
func NewSQLiteRepository(path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	// WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: wal: %w", err)
	}

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepository) migrate() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS tickets (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			queue      TEXT NOT NULL,
			priority   TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT '',
			source     TEXT NOT NULL,
			assignee   TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			document   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tickets_status ON tickets(status);
		CREATE INDEX IF NOT EXISTS idx_tickets_queue ON tickets(queue);
		CREATE INDEX IF NOT EXISTS idx_tickets_assignee ON tickets(assignee);
	`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Save(t *ticket.Ticket) error {
	doc, err := t.MarshalJSON()
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO tickets (id, status, queue, priority, category, source, assignee, created_at, updated_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, queue=excluded.queue, priority=excluded.priority,
			category=excluded.category, assignee=excluded.assignee,
			updated_at=excluded.updated_at, document=excluded.document
	`, t.ID, string(t.Status), string(t.CurrentQueue), string(t.Priority), string(t.Category),
		string(t.Source), t.Assignee,
		t.CreatedAt.UTC().Format(time.RFC3339Nano), t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		string(doc))
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Get(id string) (*ticket.Ticket, error) {
	var doc string
	err := r.db.QueryRow(`SELECT document FROM tickets WHERE id = ?`, id).Scan(&doc)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get: %w", err)
	}
	return decodeTicket(doc)
}

func (r *SQLiteRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) Find(f Filter) ([]*ticket.Ticket, error) {
	query := "SELECT document FROM tickets WHERE 1=1"
	query, args := appendConditions(query, nil, f)
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		if f.Limit <= 0 {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: find: %w", err)
	}
	defer rows.Close()

	var tickets []*ticket.Ticket
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("store: find scan: %w", err)
		}
		t, err := decodeTicket(doc)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

func (r *SQLiteRepository) Count(f Filter) (int, error) {
	query := "SELECT COUNT(*) FROM tickets WHERE 1=1"
	query, args := appendConditions(query, nil, f)

	var count int
	if err := r.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count: %w", err)
	}
	return count, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// DB returns the underlying database connection (for testing or direct access).
func (r *SQLiteRepository) DB() *sql.DB {
	return r.db
}

func appendConditions(query string, args []any, f Filter) (string, []any) {
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if f.Queue != "" {
		query += " AND queue = ?"
		args = append(args, string(f.Queue))
	}
	if f.Assignee != "" {
		query += " AND assignee = ?"
		args = append(args, f.Assignee)
	}
	if f.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(f.Priority))
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, string(f.Category))
	}
	if f.Source != "" {
		query += " AND source = ?"
		args = append(args, string(f.Source))
	}
	return query, args
}

func decodeTicket(doc string) (*ticket.Ticket, error) {
	var t ticket.Ticket
	if err := t.UnmarshalJSON([]byte(doc)); err != nil {
		return nil, fmt.Errorf("store: decode: %w", err)
	}
	return &t, nil
}
