package document

import (
	"sync"
	"time"

	"github.com/goliatone/go-live-edit/internal/crdt"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

// Cursor is one client's caret inside a document. Line and column are
// client-reported; Offset is the rune offset the store keeps stable while
// peers edit elsewhere.
type Cursor struct {
	Line   int `json:"line"`
	Col    int `json:"col"`
	Offset int `json:"offset"`
}

// Session is the authoritative state for one open file: the replicated text,
// its last flattened form, the render cache, and per-client cursors. Exactly
// one session exists per path; the store owns the map invariant.
type Session struct {
	mu sync.Mutex

	path    string
	replica interfaces.TextReplica

	raw      string
	rendered string
	dirty    bool
	changed  bool // content changed since the last render

	editors    map[string]struct{}
	cursors    map[string]Cursor
	selfSaveAt time.Time
}

func newSession(path string, replica interfaces.TextReplica, raw, rendered string) *Session {
	return &Session{
		path:     path,
		replica:  replica,
		raw:      raw,
		rendered: rendered,
		editors:  make(map[string]struct{}),
		cursors:  make(map[string]Cursor),
	}
}

// merge applies a peer update to the replica, reflattens the text, and shifts
// every tracked cursor so carets stay visually stable. Any applied delta
// marks the session dirty and in need of a render.
func (s *Session) merge(update []byte) ([]interfaces.ReplicaDelta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deltas, err := s.replica.MergeUpdate(update)
	if err != nil {
		return nil, err
	}
	if len(deltas) == 0 {
		return nil, nil
	}

	s.raw = s.replica.String()
	s.dirty = true
	s.changed = true
	s.shiftCursorsLocked(deltas)
	return deltas, nil
}

// applyLocalText commits newRaw as one local edit and returns the update to
// forward to connected clients. Used when disk content replaces the live
// session; it deliberately does not mark the session dirty.
func (s *Session) applyLocalText(newRaw string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	update, deltas, err := s.replica.ApplyLocalEdit(s.raw, newRaw)
	if err != nil {
		return nil, err
	}
	s.raw = newRaw
	s.dirty = false
	s.changed = true
	s.shiftCursorsLocked(deltas)
	return update, nil
}

func (s *Session) shiftCursorsLocked(deltas []interfaces.ReplicaDelta) {
	if len(deltas) == 0 {
		return
	}
	for id, cur := range s.cursors {
		cur.Offset = crdt.ShiftCursor(cur.Offset, deltas)
		s.cursors[id] = cur
	}
}

func (s *Session) snapshotCursors() map[string]Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Cursor, len(s.cursors))
	for id, cur := range s.cursors {
		out[id] = cur
	}
	return out
}
