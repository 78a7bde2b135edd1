package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"opsdesk/internal/domain"
)

// Client is an authorized sender.
type Client struct {
	ID        int64
	Number    string
	Label     string
	CreatedAt time.Time
}

// Store keeps the client allow-list and the append audit trail in SQLite.
// It implements domain.Authorizer; the client table is re-read on every
// authorization check so additions take effect immediately.
type Store struct {
	db        *sql.DB
	logger    *slog.Logger
	overrides []string
}

func NewStore(dbPath string, overrides []string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Set connection pool (single connection for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db, logger: logger, overrides: overrides}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		number      TEXT NOT NULL UNIQUE,
		label       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS append_log (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		gateway     TEXT NOT NULL,
		sender      TEXT NOT NULL,
		intent      TEXT,
		priority    TEXT,
		ok          INTEGER NOT NULL,
		locator     TEXT,
		error       TEXT,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_append_time ON append_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Add registers a client number. Adding an existing number updates its label.
func (s *Store) Add(ctx context.Context, number, label string) error {
	if normalizeDigits(number) == "" {
		return fmt.Errorf("client number %q contains no digits", number)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO clients (number, label) VALUES (?, ?)
		 ON CONFLICT(number) DO UPDATE SET label = excluded.label`,
		number, label,
	)
	return err
}

func (s *Store) Remove(ctx context.Context, number string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE number = ?`, number)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("client %s not found", number)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, number, label, created_at FROM clients ORDER BY created_at`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var c Client
		var label sql.NullString
		if err := rows.Scan(&c.ID, &c.Number, &label, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Label = label.String
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

type seedFile struct {
	Clients []struct {
		Number string `yaml:"number"`
		Label  string `yaml:"label"`
	} `yaml:"clients"`
}

// Import loads clients from a YAML seed file and merges them into the store.
// Returns the number of entries imported.
func (s *Store) Import(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("cannot read seed file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("cannot parse seed file: %w", err)
	}

	count := 0
	for _, c := range seed.Clients {
		if err := s.Add(ctx, c.Number, c.Label); err != nil {
			return count, fmt.Errorf("import %s: %w", c.Number, err)
		}
		count++
	}
	return count, nil
}

// Authorized reports whether the candidate number (or the group it was sent
// in) belongs to a registered client. Numbers match when the digits of one
// are a suffix of the digits of the other, so a local number registered
// without a country code still matches the full international form.
func (s *Store) Authorized(candidate, groupID string) bool {
	for _, o := range s.overrides {
		if o == "" {
			continue
		}
		if strings.Contains(candidate, o) || (groupID != "" && strings.Contains(groupID, o)) {
			return true
		}
	}

	clean := normalizeDigits(candidate)
	if clean == "" {
		return false
	}

	rows, err := s.db.QueryContext(context.Background(), `SELECT number FROM clients`)
	if err != nil {
		s.logger.Error("Client lookup failed", "error", err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			s.logger.Error("Client lookup failed", "error", err)
			return false
		}
		allowed := normalizeDigits(number)
		if allowed == "" {
			continue
		}
		if strings.HasSuffix(clean, allowed) || strings.HasSuffix(allowed, clean) {
			return true
		}
	}
	return false
}

// RecordAppend writes one row to the append audit trail. Failures are
// logged and swallowed so auditing never affects message handling.
func (s *Store) RecordAppend(ctx context.Context, rec domain.TaskRecord, outcome domain.PersistOutcome) {
	errText := ""
	if outcome.Err != nil {
		errText = outcome.Err.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO append_log (gateway, sender, intent, priority, ok, locator, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(rec.Message.Gateway), rec.Message.Sender,
		string(rec.Result.Intent), string(rec.Result.Priority),
		outcome.OK, outcome.Locator, errText,
	)
	if err != nil {
		s.logger.Warn("Append audit write failed", "error", err)
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
