package token

import (
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	appLog "icalsynchub/internal/log"
)

const (
	tokenLength   = 64
	tokenCharset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxCollisions = 5
)

var (
	// ErrNotFound is returned for operations on unknown tokens.
	ErrNotFound = errors.New("token not found")
	// ErrDuplicateOwner is returned when an owner label is already in use.
	ErrDuplicateOwner = errors.New("owner already has a token")
	// ErrEmptyOwner is returned when Create is called without an owner label.
	ErrEmptyOwner = errors.New("owner label is empty")
)

// Store is the durable token registry. Every mutation appends an audit row
// in the same transaction, so the audit trail can never miss a change.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and applies
// migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetNowFunc overrides the store clock; used by tests.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.now = now
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS tokens (
			token TEXT PRIMARY KEY,
			owner TEXT NOT NULL UNIQUE,
			created_at TEXT NOT NULL,
			expiry TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id TEXT PRIMARY KEY,
			at TEXT NOT NULL,
			action TEXT NOT NULL,
			owner TEXT NOT NULL,
			token TEXT NOT NULL,
			expiry TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_at ON audit_log(at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Create issues a new token for owner. Token strings are unpredictable
// 64-character alphanumerics; a UID collision in the table is regenerated
// internally and never surfaced.
func (s *Store) Create(owner string, expiry *time.Time) (Token, error) {
	if owner == "" {
		return Token{}, ErrEmptyOwner
	}

	for attempt := 0; attempt < maxCollisions; attempt++ {
		t := Token{
			Token:     generateToken(),
			Owner:     owner,
			CreatedAt: s.now().UTC(),
			Expiry:    expiry,
		}

		err := s.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(
				`INSERT INTO tokens (token, owner, created_at, expiry) VALUES (?, ?, ?, ?)`,
				t.Token, t.Owner, t.CreatedAt.Format(time.RFC3339), expiryString(t.Expiry),
			); err != nil {
				return err
			}
			return s.audit(tx, "create", t)
		})
		if err == nil {
			appLog.Info("token created", "owner", t.Owner, "token", t.Token, "expiry", expiryLog(t.Expiry))
			return t, nil
		}
		if isUniqueViolation(err) {
			// The owner column and the token primary key share the
			// constraint error; only the latter is retryable.
			if strings.Contains(err.Error(), "tokens.owner") {
				return Token{}, fmt.Errorf("%w: %s", ErrDuplicateOwner, owner)
			}
			// Token collision; roll the dice again.
			continue
		}
		return Token{}, fmt.Errorf("insert token: %w", err)
	}
	return Token{}, errors.New("token generation kept colliding")
}

// Remove deletes the token record. Link artifact teardown is the lifecycle
// manager's job and is triggered by the caller.
func (s *Store) Remove(tok string) error {
	t, err := s.Get(tok)
	if err != nil {
		return err
	}

	err = s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM tokens WHERE token = ?`, tok); err != nil {
			return err
		}
		return s.audit(tx, "remove", t)
	})
	if err != nil {
		return fmt.Errorf("remove token: %w", err)
	}
	appLog.Info("token removed", "owner", t.Owner, "token", t.Token)
	return nil
}

// SetExpiry mutates only the expiry field; nil clears it.
func (s *Store) SetExpiry(tok string, expiry *time.Time) error {
	t, err := s.Get(tok)
	if err != nil {
		return err
	}
	t.Expiry = expiry

	err = s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`UPDATE tokens SET expiry = ? WHERE token = ?`,
			expiryString(expiry), tok,
		); err != nil {
			return err
		}
		return s.audit(tx, "set_expiry", t)
	})
	if err != nil {
		return fmt.Errorf("set expiry: %w", err)
	}
	appLog.Info("token expiry changed", "owner", t.Owner, "token", t.Token, "expiry", expiryLog(expiry))
	return nil
}

// Get looks up a single token.
func (s *Store) Get(tok string) (Token, error) {
	row := s.db.QueryRow(`SELECT token, owner, created_at, expiry FROM tokens WHERE token = ?`, tok)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, fmt.Errorf("%w: %s", ErrNotFound, tok)
	}
	return t, err
}

// List returns all tokens ordered by creation time.
func (s *Store) List() ([]Token, error) {
	rows, err := s.db.Query(`SELECT token, owner, created_at, expiry FROM tokens ORDER BY created_at, owner`)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) audit(tx *sql.Tx, action string, t Token) error {
	_, err := tx.Exec(
		`INSERT INTO audit_log (id, at, action, owner, token, expiry) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), s.now().UTC().Format(time.RFC3339), action, t.Owner, t.Token, expiryString(t.Expiry),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (Token, error) {
	var t Token
	var created string
	var expiry sql.NullString
	if err := row.Scan(&t.Token, &t.Owner, &created, &expiry); err != nil {
		return Token{}, err
	}

	createdAt, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return Token{}, fmt.Errorf("corrupt created_at %q: %w", created, err)
	}
	t.CreatedAt = createdAt

	if expiry.Valid && expiry.String != "" {
		exp, err := time.Parse(time.RFC3339, expiry.String)
		if err != nil {
			return Token{}, fmt.Errorf("corrupt expiry %q: %w", expiry.String, err)
		}
		t.Expiry = &exp
	}
	return t, nil
}

func expiryString(expiry *time.Time) any {
	if expiry == nil {
		return nil
	}
	return expiry.UTC().Format(time.RFC3339)
}

func expiryLog(expiry *time.Time) string {
	if expiry == nil {
		return "never"
	}
	return expiry.UTC().Format(time.RFC3339)
}

func generateToken() string {
	// Rejection sampling: 256 is not a multiple of the charset size, so a
	// plain modulo would skew towards the first characters.
	const limit = 256 - 256%len(tokenCharset)

	out := make([]byte, 0, tokenLength)
	buf := make([]byte, tokenLength)
	for len(out) < tokenLength {
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(fmt.Sprintf("token: random source: %v", err))
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenCharset[int(b)%len(tokenCharset)])
			if len(out) == tokenLength {
				break
			}
		}
	}
	return string(out)
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
