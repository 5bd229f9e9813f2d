// Package ledger records issued connect-token grants and enforces that each
// one is redeemed at most once.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrUnknownGrant    = errors.New("unknown grant")
	ErrAlreadyRedeemed = errors.New("grant already redeemed")
	ErrExpired         = errors.New("grant expired")
)

// Grant is one issued token.
type Grant struct {
	ID        string
	ClientID  uint64
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Ledger struct {
	path string
	conn *sql.DB
}

// Open opens (creating if needed) the ledger at path. ":memory:" keeps it in
// process memory.
func Open(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	dsn := ":memory:"
	if path != ":memory:" {
		clean := filepath.Clean(path)
		if err := os.MkdirAll(filepath.Dir(clean), 0o700); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
		path = clean
		dsn = "file:" + filepath.ToSlash(clean) + "?mode=rwc"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One shared connection: PRAGMAs are per connection and an in-memory
	// database lives only as long as its connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := conn.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &Ledger{path: path, conn: conn}, nil
}

func (l *Ledger) Close() error {
	if l == nil || l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

func (l *Ledger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Issue records a freshly minted grant.
func (l *Ledger) Issue(ctx context.Context, g Grant) error {
	if g.ID == "" {
		return fmt.Errorf("grant id is required")
	}
	_, err := l.conn.ExecContext(ctx,
		`INSERT INTO grants (id, client_id, issued_at, expires_at) VALUES (?, ?, ?, ?)`,
		g.ID, int64(g.ClientID), g.IssuedAt.Unix(), g.ExpiresAt.Unix())
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

// Redeem marks the grant used. It fails if the grant is unknown, already
// redeemed or expired at now.
func (l *Ledger) Redeem(ctx context.Context, id string, now time.Time) (Grant, error) {
	tx, err := l.conn.BeginTx(ctx, nil)
	if err != nil {
		return Grant{}, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var (
		clientID        int64
		issued, expires int64
		redeemed        sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT client_id, issued_at, expires_at, redeemed_at FROM grants WHERE id = ?`, id,
	).Scan(&clientID, &issued, &expires, &redeemed)
	if errors.Is(err, sql.ErrNoRows) {
		return Grant{}, ErrUnknownGrant
	}
	if err != nil {
		return Grant{}, fmt.Errorf("select grant: %w", err)
	}

	g := Grant{
		ID:        id,
		ClientID:  uint64(clientID),
		IssuedAt:  time.Unix(issued, 0),
		ExpiresAt: time.Unix(expires, 0),
	}
	if redeemed.Valid {
		return g, ErrAlreadyRedeemed
	}
	if expires <= now.Unix() {
		return g, ErrExpired
	}

	if _, err := tx.ExecContext(ctx, `UPDATE grants SET redeemed_at = ? WHERE id = ?`, now.Unix(), id); err != nil {
		return Grant{}, fmt.Errorf("update grant: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Grant{}, fmt.Errorf("commit: %w", err)
	}
	return g, nil
}

// Prune deletes grants that expired at or before now and returns how many
// rows were removed.
func (l *Ledger) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := l.conn.ExecContext(ctx, `DELETE FROM grants WHERE expires_at <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune grants: %w", err)
	}
	return res.RowsAffected()
}

// Outstanding counts issued grants that are neither redeemed nor expired.
func (l *Ledger) Outstanding(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := l.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM grants WHERE redeemed_at IS NULL AND expires_at > ?`, now.Unix(),
	).Scan(&n)
	return n, err
}
