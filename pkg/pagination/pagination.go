// Package pagination implements newest-first keyset paging over tables keyed
// by (created_at, id).
package pagination

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DefaultLimit = 25
	MaxLimit     = 100

	cursorLen = 8 + 16
)

var ErrInvalidCursor = errors.New("pagination: invalid cursor")

// Params is a page request. A zero Limit means DefaultLimit; an empty
// Cursor means the first page.
type Params struct {
	Limit  int
	Cursor string
}

// Size is the effective page size.
func (p Params) Size() int {
	switch {
	case p.Limit <= 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return p.Limit
	}
}

// Cursor is the position of the last row a page returned.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// String encodes the cursor as an opaque URL-safe token.
func (c Cursor) String() string {
	var buf [cursorLen]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(c.CreatedAt.UnixNano()))
	copy(buf[8:], c.ID[:])
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// ParseCursor decodes a token produced by Cursor.String. Blank input is the
// first page and yields nil.
func ParseCursor(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != cursorLen {
		return nil, ErrInvalidCursor
	}
	id, err := uuid.FromBytes(raw[8:])
	if err != nil || id == uuid.Nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{
		CreatedAt: time.Unix(0, int64(binary.BigEndian.Uint64(raw[:8]))).UTC(),
		ID:        id,
	}, nil
}

// Page is one slice of results. NextCursor is empty on the last page.
type Page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// Keyset returns a gorm scope that seeks past p's cursor, orders newest
// first and fetches one lookahead row for Collect.
func Keyset(p Params) (func(*gorm.DB) *gorm.DB, error) {
	after, err := ParseCursor(p.Cursor)
	if err != nil {
		return nil, err
	}
	return func(db *gorm.DB) *gorm.DB {
		if after != nil {
			db = db.Where("(created_at < ? OR (created_at = ? AND id < ?))", after.CreatedAt, after.CreatedAt, after.ID)
		}
		return db.Order("created_at DESC").Order("id DESC").Limit(p.Size() + 1)
	}, nil
}

// Collect turns rows fetched through Keyset into a page, dropping the
// lookahead row and pointing NextCursor at the last row kept.
func Collect[T any](rows []T, p Params, position func(T) Cursor) Page[T] {
	size := p.Size()
	if len(rows) <= size {
		if rows == nil {
			rows = []T{}
		}
		return Page[T]{Items: rows}
	}
	rows = rows[:size]
	return Page[T]{Items: rows, NextCursor: position(rows[size-1]).String()}
}

// Map converts every item of a page and keeps its cursor.
func Map[T, U any](page Page[T], fn func(T) U) Page[U] {
	out := make([]U, 0, len(page.Items))
	for _, item := range page.Items {
		out = append(out, fn(item))
	}
	return Page[U]{Items: out, NextCursor: page.NextCursor}
}
