// Package host reads and replaces the host application's entity graph.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/rhplus0831/risugit/internal/model"
	"github.com/rhplus0831/risugit/internal/syncerr"
)

// Ref points at the chat the user is looking at.
type Ref struct {
	CharacterID string
	ChatIndex   int
}

// State is the host side of a sync.
type State interface {
	Database(ctx context.Context) (*model.Database, error)
	ReplaceDatabase(ctx context.Context, db *model.Database) error
	CurrentRef(ctx context.Context) (Ref, error)
}

const keyChatPage = "chatPage"

// CurrentRef picks the most recently used character and its open chat page.
func CurrentRef(db *model.Database) (Ref, error) {
	best, bestAt := -1, math.Inf(-1)
	for i, c := range db.Characters {
		at, err := c.LastInteraction.Float64()
		if err != nil {
			continue
		}
		if best < 0 || at > bestAt {
			best, bestAt = i, at
		}
	}
	if best < 0 {
		if len(db.Characters) == 0 {
			return Ref{}, syncerr.Precondition("the host has no characters")
		}
		best = 0
	}
	c := db.Characters[best]
	page := 0
	if n, ok := c.Fields[keyChatPage].(json.Number); ok {
		if v, err := n.Int64(); err == nil {
			page = int(v)
		}
	}
	if page < 0 || page >= len(c.Chats) {
		return Ref{}, syncerr.Precondition(fmt.Sprintf("character %s has no chat at page %d", c.ID, page))
	}
	return Ref{CharacterID: c.ID, ChatIndex: page}, nil
}

// Memory is an in-process State.
type Memory struct {
	mu  sync.Mutex
	db  *model.Database
	ref *Ref
}

// NewMemory returns a Memory holding db.
func NewMemory(db *model.Database) *Memory {
	if db == nil {
		db = &model.Database{}
	}
	return &Memory{db: db}
}

func (m *Memory) Database(context.Context) (*model.Database, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db, nil
}

func (m *Memory) ReplaceDatabase(_ context.Context, db *model.Database) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.db = db
	return nil
}

// SetCurrent pins the ref returned by CurrentRef.
func (m *Memory) SetCurrent(ref Ref) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ref = &ref
}

func (m *Memory) CurrentRef(context.Context) (Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ref != nil {
		return *m.ref, nil
	}
	return CurrentRef(m.db)
}

var _ State = (*Memory)(nil)
