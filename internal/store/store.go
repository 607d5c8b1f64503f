// Package store is the persistence external collaborator of
// spec.md §6: a relational store for puzzle/user metadata (accessed
// in-process via a pooled pgx connection, not a sidecar service) plus
// a JSON blob per puzzle on disk. It distinguishes "no such row" from
// any other failure, per spec.md §7, so callers can map the former to
// a 404 and the latter to a 500.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"git.sr.ht/~kvothe/crosscollab/internal/crossword"
)

// ErrNoRow is returned wherever a lookup found nothing, mapped to a
// 404 at the HTTP boundary (spec.md §7). Any other error from this
// package becomes a 500.
var ErrNoRow = errors.New("store: no such row")

// errUnexpectedDBError wraps any database failure that isn't
// "no rows," following the double-wrap idiom this lineage uses
// throughout its websocket message handlers.
var errUnexpectedDBError = errors.New("store: unexpected database error")

// errFileConflict is returned when a puzzle's blob path collides with
// an existing row (the puzzles.file UNIQUE constraint).
var errFileConflict = errors.New("store: file path already in use")

const uniqueViolation = "23505"

// PuzzleMetadata mirrors spec.md §3's PuzzleMetadata plus the
// ShareToken addition of SPEC_FULL.md §3.E.
type PuzzleMetadata struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	File       string `json:"file"`
	Deleted    bool   `json:"-"`
	ShareToken string `json:"share_token"`
}

// Store owns the Postgres pool and the blob directory.
type Store struct {
	db       *pgxpool.Pool
	blobPath string
}

// Open connects to dsn and ensures blobPath exists.
func Open(ctx context.Context, dsn, blobPath string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connecting: %w", err)
	}
	if err := os.MkdirAll(blobPath, 0o755); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: creating blob path: %w", err)
	}
	return &Store{db: pool, blobPath: blobPath}, nil
}

// Close releases the pool. Does not touch in-flight puzzle channels;
// those persist their own state on teardown (spec.md §4.5).
func (s *Store) Close() {
	s.db.Close()
}

// CreatePuzzle inserts a metadata row and writes the initial blob,
// generating a UUID share token and a blob filename from the new id.
// spec.md §6: POST /puzzle/add. Testable scenario S6: if cw is nil,
// returns an error before touching the database or disk.
func (s *Store) CreatePuzzle(ctx context.Context, name string, cw *crossword.Crossword) (*PuzzleMetadata, error) {
	if cw == nil {
		return nil, fmt.Errorf("%w: crossword field is required", errUnexpectedDBError)
	}

	meta := &PuzzleMetadata{Name: name, ShareToken: uuid.NewString()}

	err := s.db.QueryRow(ctx,
		"INSERT INTO puzzles (name, file, deleted) VALUES ($1, '', false) RETURNING id",
		name,
	).Scan(&meta.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}

	meta.File = filepath.Join(s.blobPath, strconv.FormatInt(meta.ID, 10)+".json")
	if _, err := s.db.Exec(ctx, "UPDATE puzzles SET file = $1 WHERE id = $2", meta.File, meta.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %w", errFileConflict, err)
		}
		return nil, fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}

	if err := s.writeBlob(meta.File, cw); err != nil {
		return nil, err
	}

	return meta, nil
}

// Metadata loads one puzzle's metadata row, ErrNoRow if soft-deleted
// or absent.
func (s *Store) Metadata(ctx context.Context, id int64) (*PuzzleMetadata, error) {
	meta := &PuzzleMetadata{ID: id}
	err := s.db.QueryRow(ctx,
		"SELECT name, file, deleted FROM puzzles WHERE id = $1",
		id,
	).Scan(&meta.Name, &meta.File, &meta.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRow
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}
	if meta.Deleted {
		return nil, ErrNoRow
	}
	return meta, nil
}

// List returns every non-deleted puzzle's metadata, per spec.md §6
// GET /puzzle/list.
func (s *Store) List(ctx context.Context) ([]PuzzleMetadata, error) {
	rows, err := s.db.Query(ctx, "SELECT id, name, file FROM puzzles WHERE deleted = false ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}
	defer rows.Close()

	var out []PuzzleMetadata
	for rows.Next() {
		var m PuzzleMetadata
		if err := rows.Scan(&m.ID, &m.Name, &m.File); err != nil {
			return nil, fmt.Errorf("%w: %w", errUnexpectedDBError, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}
	return out, nil
}

// LoadCrossword loads a puzzle's blob from disk, ErrNoRow if the
// metadata row doesn't exist (or the file is missing).
func (s *Store) LoadCrossword(ctx context.Context, id int64) (*crossword.Crossword, error) {
	meta, err := s.Metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(meta.File)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRow
		}
		return nil, fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}
	cw := crossword.New()
	if err := cw.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}
	return cw, nil
}

// PersistCrossword overwrites a puzzle's blob on disk. Called by the
// puzzle channel's broker loop on its terminating edge (spec.md §3,
// §4.5) and nowhere else — edits are RAM-only until then.
func (s *Store) PersistCrossword(ctx context.Context, id int64, cw *crossword.Crossword) error {
	meta, err := s.Metadata(ctx, id)
	if err != nil {
		return err
	}
	return s.writeBlob(meta.File, cw)
}

func (s *Store) writeBlob(path string, cw *crossword.Crossword) error {
	data, err := json.Marshal(cw)
	if err != nil {
		return fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", errUnexpectedDBError, err)
	}
	return nil
}

// HashPassword bcrypt-hashes a plaintext password for the users.password
// column. The sign-up handler that calls this is an external
// collaborator (spec.md §1); only the hashing contract lives here.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("store: hashing password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks plaintext against a bcrypt hash previously
// produced by HashPassword.
func VerifyPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
