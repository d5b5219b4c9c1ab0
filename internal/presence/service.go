package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-live-edit/internal/logging"
	"github.com/goliatone/go-live-edit/internal/runtimeconfig"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

var (
	ErrUnknownClient = errors.New("presence: unknown client")
)

// Entry is one participant in the roster.
type Entry struct {
	ClientID string    `json:"clientId"`
	Name     string    `json:"name"`
	Color    string    `json:"color"`
	Page     string    `json:"page"`
	LastSeen time.Time `json:"lastSeen"`
	// Latency is the client's last reported round trip in milliseconds.
	Latency int64 `json:"latency"`
}

// JoinRequest announces a new participant.
type JoinRequest struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Page     string `json:"page"`
}

// Validate rejects joins that cannot be displayed in a roster.
func (r JoinRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.ClientID, validation.Required.Error("clientId is required")),
		validation.Field(&r.Name, validation.Required.Error("name is required")),
	)
}

// Heartbeat refreshes a participant's liveness.
type Heartbeat struct {
	ClientID string `json:"clientId"`
	Page     string `json:"page"`
	Latency  int64  `json:"latency"`
}

// Validate rejects heartbeats for nobody.
func (h Heartbeat) Validate() error {
	return validation.ValidateStruct(&h,
		validation.Field(&h.ClientID, validation.Required.Error("clientId is required")),
		validation.Field(&h.Latency, validation.Min(0).Error("latency cannot be negative")),
	)
}

// Subscription is one listener's handle on roster changes. Closing it
// unregisters the listener; the service never holds a reference after that,
// so a torn-down consumer cannot leak.
type Subscription struct {
	id      uint64
	service *Service
	roster  chan []Entry
	once    sync.Once
}

// Roster streams roster snapshots. A slow consumer skips intermediate
// snapshots rather than blocking the service.
func (s *Subscription) Roster() <-chan []Entry {
	return s.roster
}

// Close unregisters the subscription and closes the roster channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.service.unsubscribe(s.id)
	})
}

// Service tracks who is on which page. Entries move absent -> joined ->
// active while heartbeats arrive; an entry whose last heartbeat is older than
// the staleness window is swept out and the roster rebroadcast.
type Service struct {
	mu          sync.Mutex
	roster      map[string]Entry
	subscribers map[uint64]chan []Entry
	nextSub     uint64

	staleness time.Duration
	sweep     time.Duration
	now       func() time.Time
	logger    interfaces.Logger
}

// Option configures the service at construction time.
type Option func(*Service)

// WithClock overrides the clock used for liveness decisions.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithLogger attaches the presence module logger.
func WithLogger(provider interfaces.LoggerProvider) Option {
	return func(s *Service) {
		s.logger = logging.PresenceLogger(provider)
	}
}

// NewService creates a roster using the staleness window and derived sweep
// cadence from timing.
func NewService(timing runtimeconfig.TimingConfig, opts ...Option) *Service {
	s := &Service{
		roster:      make(map[string]Entry),
		subscribers: make(map[uint64]chan []Entry),
		staleness:   timing.Staleness,
		sweep:       timing.SweepInterval(),
		now:         time.Now,
		logger:      logging.NoOp(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Join adds or replaces a participant and broadcasts the new roster.
func (s *Service) Join(req JoinRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.roster[req.ClientID] = Entry{
		ClientID: req.ClientID,
		Name:     req.Name,
		Color:    req.Color,
		Page:     req.Page,
		LastSeen: s.now(),
	}
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("client joined", "client_id", req.ClientID, "page", req.Page)
	s.publish(snapshot)
	return nil
}

// Beat refreshes a participant's liveness, page and latency, broadcasting
// the roster so peers see the movement. A heartbeat for an unknown client
// returns ErrUnknownClient; the caller decides whether to re-join.
func (s *Service) Beat(hb Heartbeat) error {
	if err := hb.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	entry, ok := s.roster[hb.ClientID]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownClient
	}
	entry.LastSeen = s.now()
	entry.Latency = hb.Latency
	if hb.Page != "" {
		entry.Page = hb.Page
	}
	s.roster[hb.ClientID] = entry
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snapshot)
	return nil
}

// Leave removes a participant immediately and broadcasts the roster.
func (s *Service) Leave(clientID string) {
	s.mu.Lock()
	if _, ok := s.roster[clientID]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.roster, clientID)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("client left", "client_id", clientID)
	s.publish(snapshot)
}

// Snapshot returns the current roster ordered by client id.
func (s *Service) Snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a roster listener and immediately delivers the current
// roster on its channel.
func (s *Service) Subscribe() *Subscription {
	ch := make(chan []Entry, 8)

	s.mu.Lock()
	s.nextSub++
	id := s.nextSub
	s.subscribers[id] = ch
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	sub := &Subscription{id: id, service: s, roster: ch}
	select {
	case ch <- snapshot:
	default:
	}
	return sub
}

// Run sweeps stale entries until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.sweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepStale()
		}
	}
}

// SweepStale removes every entry whose last heartbeat is older than the
// staleness window, broadcasting once if anything was removed. It returns the
// removed client ids.
func (s *Service) SweepStale() []string {
	cutoff := s.now().Add(-s.staleness)

	s.mu.Lock()
	var removed []string
	for id, entry := range s.roster {
		if entry.LastSeen.Before(cutoff) {
			delete(s.roster, id)
			removed = append(removed, id)
		}
	}
	var snapshot []Entry
	if len(removed) > 0 {
		snapshot = s.snapshotLocked()
	}
	s.mu.Unlock()

	if len(removed) > 0 {
		s.logger.Info("swept stale clients", "client_ids", removed)
		s.publish(snapshot)
	}
	return removed
}

func (s *Service) unsubscribe(id uint64) {
	s.mu.Lock()
	ch, ok := s.subscribers[id]
	delete(s.subscribers, id)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (s *Service) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(s.roster))
	for _, entry := range s.roster {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// publish fans the snapshot to every subscriber without blocking: a listener
// that cannot keep up misses intermediate rosters, never the service. Sends
// happen under the roster lock so an unsubscribe cannot close a channel
// mid-send.
func (s *Service) publish(snapshot []Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- snapshot:
		default:
		}
	}
}
