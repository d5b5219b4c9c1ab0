package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-live-edit/internal/crdt"
	"github.com/goliatone/go-live-edit/internal/logging"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

var (
	ErrPathRequired   = errors.New("document: path is required")
	ErrSessionMissing = errors.New("document: no session for path")
)

const defaultSelfSaveTTL = 5 * time.Second

// OpenResult carries the initial payload for a client attaching to a file.
type OpenResult struct {
	Raw      string
	Rendered string
	// Export is the replica's full state for the open handshake SYNC frame.
	Export []byte
}

// Store is the authoritative map from file path to live session. It owns the
// load/save/close lifecycle and the dirty and self-save bookkeeping the
// autosave controller and file watcher depend on.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	renderer    interfaces.Renderer
	replicas    interfaces.ReplicaFactory
	logger      interfaces.Logger
	now         func() time.Time
	selfSaveTTL time.Duration
}

var _ interfaces.EditGuard = (*Store)(nil)

// Option configures the store at construction time.
type Option func(*Store)

// WithLogger attaches the document module logger.
func WithLogger(provider interfaces.LoggerProvider) Option {
	return func(s *Store) {
		s.logger = logging.DocumentLogger(provider)
	}
}

// WithReplicaFactory swaps the CRDT backing the text sessions.
func WithReplicaFactory(factory interfaces.ReplicaFactory) Option {
	return func(s *Store) {
		if factory != nil {
			s.replicas = factory
		}
	}
}

// WithClock overrides the clock used for self-save stamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithSelfSaveTTL bounds how long an unconsumed self-save flag suppresses
// external-change handling.
func WithSelfSaveTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.selfSaveTTL = ttl
		}
	}
}

// NewStore creates an empty store rendering previews through renderer.
func NewStore(renderer interfaces.Renderer, opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[string]*Session),
		renderer:    renderer,
		replicas:    crdt.Factory,
		logger:      logging.NoOp(),
		now:         time.Now,
		selfSaveTTL: defaultSelfSaveTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open attaches to the session for path, creating it from disk on first use.
// An unreadable path surfaces the I/O error to the caller; there is no retry.
func (s *Store) Open(ctx context.Context, path string) (OpenResult, error) {
	if path == "" {
		return OpenResult{}, ErrPathRequired
	}

	session, err := s.ensureSession(ctx, path)
	if err != nil {
		return OpenResult{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	return OpenResult{
		Raw:      session.raw,
		Rendered: session.rendered,
		Export:   session.replica.Export(),
	}, nil
}

// Attach registers clientID as an active editor of path, creating the
// session from disk when absent. Attaching twice is a no-op.
func (s *Store) Attach(ctx context.Context, path, clientID string) error {
	session, err := s.ensureSession(ctx, path)
	if err != nil {
		return err
	}
	session.mu.Lock()
	session.editors[clientID] = struct{}{}
	session.mu.Unlock()
	return nil
}

// Close removes clientID from path's session and clears its cursor. When the
// last editor leaves, a dirty session gets one final flush and the session is
// evicted; a failed final flush keeps the session so autosave can retry.
func (s *Store) Close(ctx context.Context, path, clientID string) error {
	session, ok := s.lookup(path)
	if !ok {
		return nil
	}

	session.mu.Lock()
	delete(session.editors, clientID)
	delete(session.cursors, clientID)
	empty := len(session.editors) == 0
	dirty := session.dirty
	session.mu.Unlock()

	if !empty {
		return nil
	}
	if dirty {
		if err := s.Flush(ctx, path); err != nil {
			s.logger.Error("final flush failed, keeping session for retry", "path", path, "error", err)
			return err
		}
	}
	s.mu.Lock()
	if current, ok := s.sessions[path]; ok && current == session {
		current.mu.Lock()
		if len(current.editors) == 0 && !current.dirty {
			delete(s.sessions, path)
		}
		current.mu.Unlock()
	}
	s.mu.Unlock()
	return nil
}

// MergeRemote applies a client's SYNC update to the session replica. The
// returned deltas are empty when the update was a duplicate.
func (s *Store) MergeRemote(path string, update []byte) ([]interfaces.ReplicaDelta, error) {
	session, ok := s.lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionMissing, path)
	}
	return session.merge(update)
}

// UpdateRaw replaces a session's content wholesale with newRaw, typically the
// current on-disk text after an external change. Dirty is cleared, a fresh
// render is requested, and the returned update converges connected clients.
func (s *Store) UpdateRaw(ctx context.Context, path, newRaw string) ([]byte, error) {
	session, ok := s.lookup(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionMissing, path)
	}
	return session.applyLocalText(newRaw)
}

// MarkDirty flags path for the next scheduled flush without writing.
func (s *Store) MarkDirty(path string) {
	if session, ok := s.lookup(path); ok {
		session.mu.Lock()
		session.dirty = true
		session.mu.Unlock()
	}
}

// Flush writes path's raw text to disk if dirty, records the write as
// self-originated, and clears dirty. A write failure leaves dirty set so no
// edit is silently lost; the next scheduled tick retries.
func (s *Store) Flush(ctx context.Context, path string) error {
	session, ok := s.lookup(path)
	if !ok {
		return nil
	}

	session.mu.Lock()
	defer session.mu.Unlock()
	if !session.dirty {
		return nil
	}

	session.selfSaveAt = s.now()
	if err := os.WriteFile(path, []byte(session.raw), 0o644); err != nil {
		session.selfSaveAt = time.Time{}
		return fmt.Errorf("document: flush %s: %w", path, err)
	}
	session.dirty = false
	s.logger.Debug("flushed session", "path", path, "bytes", len(session.raw))
	return nil
}

// FlushAll flushes every dirty session, returning how many were written and
// the joined errors of any that failed.
func (s *Store) FlushAll(ctx context.Context) (int, error) {
	s.mu.Lock()
	paths := make([]string, 0, len(s.sessions))
	for path, session := range s.sessions {
		session.mu.Lock()
		if session.dirty {
			paths = append(paths, path)
		}
		session.mu.Unlock()
	}
	s.mu.Unlock()

	flushed := 0
	var errs []error
	for _, path := range paths {
		if err := s.Flush(ctx, path); err != nil {
			errs = append(errs, err)
			continue
		}
		flushed++
	}
	return flushed, errors.Join(errs...)
}

// IsEditing reports whether path has at least one attached editor.
func (s *Store) IsEditing(path string) bool {
	session, ok := s.lookup(path)
	if !ok {
		return false
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return len(session.editors) > 0
}

// IsSelfSave reports whether the latest change to path came from this store's
// own flush. The flag is consumed by the query and expires after the
// configured TTL so a missed watcher event cannot mask a later external edit.
func (s *Store) IsSelfSave(path string) bool {
	session, ok := s.lookup(path)
	if !ok {
		return false
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.selfSaveAt.IsZero() {
		return false
	}
	fresh := s.now().Sub(session.selfSaveAt) <= s.selfSaveTTL
	session.selfSaveAt = time.Time{}
	return fresh
}

// SetCursor records clientID's caret in path's session.
func (s *Store) SetCursor(path, clientID string, cursor Cursor) {
	if session, ok := s.lookup(path); ok {
		session.mu.Lock()
		session.cursors[clientID] = cursor
		session.mu.Unlock()
	}
}

// ClearCursor removes clientID's caret, typically on disconnect.
func (s *Store) ClearCursor(path, clientID string) {
	if session, ok := s.lookup(path); ok {
		session.mu.Lock()
		delete(session.cursors, clientID)
		session.mu.Unlock()
	}
}

// Cursors snapshots the carets tracked for path.
func (s *Store) Cursors(path string) map[string]Cursor {
	session, ok := s.lookup(path)
	if !ok {
		return nil
	}
	return session.snapshotCursors()
}

// Raw returns the current flattened text for path.
func (s *Store) Raw(path string) (string, bool) {
	session, ok := s.lookup(path)
	if !ok {
		return "", false
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.raw, true
}

// RenderIfChanged re-renders path's preview when content changed since the
// last render, returning the fresh HTML and whether it changed.
func (s *Store) RenderIfChanged(ctx context.Context, path string) (string, bool, error) {
	session, ok := s.lookup(path)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrSessionMissing, path)
	}

	session.mu.Lock()
	if !session.changed {
		rendered := session.rendered
		session.mu.Unlock()
		return rendered, false, nil
	}
	raw := session.raw
	session.mu.Unlock()

	html, err := s.renderer.Render(ctx, []byte(raw))
	if err != nil {
		return "", false, fmt.Errorf("document: render %s: %w", path, err)
	}

	session.mu.Lock()
	session.rendered = string(html)
	session.changed = false
	rendered := session.rendered
	session.mu.Unlock()
	return rendered, true, nil
}

// EditorCount reports how many clients hold path open.
func (s *Store) EditorCount(path string) int {
	session, ok := s.lookup(path)
	if !ok {
		return 0
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	return len(session.editors)
}

func (s *Store) lookup(path string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[path]
	return session, ok
}

// ensureSession returns the session for path, reading and rendering the file
// outside the map lock so a slow open never stalls other sessions.
func (s *Store) ensureSession(ctx context.Context, path string) (*Session, error) {
	if session, ok := s.lookup(path); ok {
		return session, nil
	}

	rawBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("document: open %s: %w", path, err)
	}
	html, err := s.renderer.Render(ctx, rawBytes)
	if err != nil {
		return nil, fmt.Errorf("document: render %s: %w", path, err)
	}

	raw := string(rawBytes)
	replica := s.replicas(uuid.NewString(), raw)
	created := newSession(path, replica, raw, string(html))

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.sessions[path]; ok {
		// Lost the race to another opener; their session wins.
		return existing, nil
	}
	s.sessions[path] = created
	s.logger.Info("session created", "path", path, "bytes", len(raw))
	return created, nil
}
