// Package store is the local, strongly-consistent side of the platform:
// drafts awaiting publication, their ordered children, and the published
// records that mirror network identities for query performance. Display
// content is never read from here; that comes from resolved notes.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a draft or record does not exist.
var ErrNotFound = errors.New("not found")

// Draft kinds.
const (
	DraftDocument = "document"
	DraftVideo    = "video"
	DraftCourse   = "course"
)

// StringList stores a []string column as JSON text.
type StringList []string

// Value implements driver.Valuer
func (s StringList) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (s *StringList) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case string:
		return json.Unmarshal([]byte(v), s)
	case []byte:
		return json.Unmarshal(v, s)
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}
}

// Draft is a locally-owned, not-yet-published unit of content.
type Draft struct {
	ID          string     `db:"id"`
	OwnerPubKey string     `db:"owner_pubkey"`
	Kind        string     `db:"kind"`
	Title       string     `db:"title"`
	Summary     string     `db:"summary"`
	Content     string     `db:"content"`
	Price       int64      `db:"price"`
	Topics      StringList `db:"topics"`
	Links       StringList `db:"links"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// IsComposite reports whether the draft publishes with dependent children.
func (d *Draft) IsComposite() bool {
	return d.Kind == DraftCourse
}

// DraftChild is one ordered child reference of a composite draft: either an
// already-published address or another unpublished draft, never both.
type DraftChild struct {
	DraftID      string         `db:"draft_id"`
	Position     int            `db:"position"`
	ChildDraftID sql.NullString `db:"child_draft_id"`
	Address      sql.NullString `db:"address"`
}

// PublishedRecord mirrors a network identity locally. It is authoritative
// for query performance only, never for display content.
type PublishedRecord struct {
	ID          string    `db:"id"`
	DraftID     string    `db:"draft_id"`
	Address     string    `db:"address"`
	EventID     string    `db:"event_id"`
	OwnerPubKey string    `db:"owner_pubkey"`
	Kind        int       `db:"kind"`
	Price       int64     `db:"price"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// Store wraps the SQLite database.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for diagnostics.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func (s *Store) runMigrations(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS drafts (
		id            TEXT PRIMARY KEY,
		owner_pubkey  TEXT NOT NULL,
		kind          TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		summary       TEXT NOT NULL DEFAULT '',
		content       TEXT NOT NULL DEFAULT '',
		price         INTEGER NOT NULL DEFAULT 0,
		topics        TEXT NOT NULL DEFAULT '[]',
		links         TEXT NOT NULL DEFAULT '[]',
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS draft_children (
		draft_id       TEXT NOT NULL REFERENCES drafts(id) ON DELETE CASCADE,
		position       INTEGER NOT NULL,
		child_draft_id TEXT,
		address        TEXT,
		PRIMARY KEY (draft_id, position),
		CHECK ((child_draft_id IS NULL) != (address IS NULL))
	);

	CREATE TABLE IF NOT EXISTS published_records (
		id            TEXT PRIMARY KEY,
		draft_id      TEXT NOT NULL UNIQUE,
		address       TEXT NOT NULL,
		event_id      TEXT NOT NULL DEFAULT '',
		owner_pubkey  TEXT NOT NULL,
		kind          INTEGER NOT NULL,
		price         INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_draft_children_draft ON draft_children(draft_id, position);
	CREATE INDEX IF NOT EXISTS idx_published_address ON published_records(address);
	CREATE INDEX IF NOT EXISTS idx_published_owner ON published_records(owner_pubkey);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// CreateDraft inserts a new draft, assigning an id and timestamps if unset.
func (s *Store) CreateDraft(ctx context.Context, draft *Draft) error {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = now
	}
	draft.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO drafts (id, owner_pubkey, kind, title, summary, content, price, topics, links, created_at, updated_at)
		VALUES (:id, :owner_pubkey, :kind, :title, :summary, :content, :price, :topics, :links, :created_at, :updated_at)`,
		draft)
	if err != nil {
		return fmt.Errorf("failed to create draft: %w", err)
	}
	return nil
}

// UpdateDraft rewrites a draft's mutable fields.
func (s *Store) UpdateDraft(ctx context.Context, draft *Draft) error {
	draft.UpdatedAt = time.Now().UTC()

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE drafts
		SET title = :title, summary = :summary, content = :content,
		    price = :price, topics = :topics, links = :links, updated_at = :updated_at
		WHERE id = :id`,
		draft)
	if err != nil {
		return fmt.Errorf("failed to update draft: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("draft %s: %w", draft.ID, ErrNotFound)
	}
	return nil
}

// FindDraft looks a draft up by id.
func (s *Store) FindDraft(ctx context.Context, id string) (*Draft, error) {
	var draft Draft
	err := s.db.GetContext(ctx, &draft, `SELECT * FROM drafts WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find draft: %w", err)
	}
	return &draft, nil
}

// RemoveDraft deletes a draft and its child references.
func (s *Store) RemoveDraft(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove draft: %w", err)
	}
	return nil
}

// SetChildren replaces the ordered child list of a composite draft.
func (s *Store) SetChildren(ctx context.Context, draftID string, children []DraftChild) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM draft_children WHERE draft_id = ?`, draftID); err != nil {
		return fmt.Errorf("failed to clear children: %w", err)
	}

	for i, child := range children {
		child.DraftID = draftID
		child.Position = i
		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO draft_children (draft_id, position, child_draft_id, address)
			VALUES (:draft_id, :position, :child_draft_id, :address)`,
			child); err != nil {
			return fmt.Errorf("failed to insert child %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit children: %w", err)
	}
	return nil
}

// FindChildren returns a composite draft's children in order.
func (s *Store) FindChildren(ctx context.Context, draftID string) ([]DraftChild, error) {
	var children []DraftChild
	err := s.db.SelectContext(ctx, &children,
		`SELECT * FROM draft_children WHERE draft_id = ? ORDER BY position`, draftID)
	if err != nil {
		return nil, fmt.Errorf("failed to find children: %w", err)
	}
	return children, nil
}

// UpsertPublished records (or refreshes) the network identity of a published
// draft. It is an idempotent upsert keyed on the draft id, so concurrent
// publish runs and republications converge on one row.
func (s *Store) UpsertPublished(ctx context.Context, rec *PublishedRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO published_records (id, draft_id, address, event_id, owner_pubkey, kind, price, created_at, updated_at)
		VALUES (:id, :draft_id, :address, :event_id, :owner_pubkey, :kind, :price, :created_at, :updated_at)
		ON CONFLICT(draft_id) DO UPDATE SET
			address = excluded.address,
			event_id = excluded.event_id,
			kind = excluded.kind,
			price = excluded.price,
			updated_at = excluded.updated_at`,
		rec)
	if err != nil {
		return fmt.Errorf("failed to upsert published record: %w", err)
	}
	return nil
}

// FindPublishedByDraft returns the published record for a draft, if any.
func (s *Store) FindPublishedByDraft(ctx context.Context, draftID string) (*PublishedRecord, error) {
	var rec PublishedRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM published_records WHERE draft_id = ?`, draftID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("published record for draft %s: %w", draftID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find published record: %w", err)
	}
	return &rec, nil
}

// FindPublishedByAddress returns the published record carrying an address.
func (s *Store) FindPublishedByAddress(ctx context.Context, address string) (*PublishedRecord, error) {
	var rec PublishedRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM published_records WHERE address = ?`, address)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("published record for address %s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find published record: %w", err)
	}
	return &rec, nil
}

// ListDrafts returns drafts for an owner, newest first.
func (s *Store) ListDrafts(ctx context.Context, ownerPubKey string, limit int) ([]*Draft, error) {
	if limit <= 0 {
		limit = 50
	}
	var drafts []*Draft
	err := s.db.SelectContext(ctx, &drafts,
		`SELECT * FROM drafts WHERE owner_pubkey = ? ORDER BY updated_at DESC LIMIT ?`,
		ownerPubKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return drafts, nil
}

// ListPublished returns published records for an owner, newest first.
func (s *Store) ListPublished(ctx context.Context, ownerPubKey string, limit int) ([]*PublishedRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []*PublishedRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT * FROM published_records WHERE owner_pubkey = ? ORDER BY updated_at DESC LIMIT ?`,
		ownerPubKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list published records: %w", err)
	}
	return recs, nil
}
