package realtime

import (
	"context"
	"encoding/json"
	"sync"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-live-edit/internal/document"
	"github.com/goliatone/go-live-edit/internal/logging"
	"github.com/goliatone/go-live-edit/internal/runtimeconfig"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

// Hub multiplexes editor connections over per-path rooms. Replica updates,
// cursor moves, heartbeats, timing config and render pushes all share one
// websocket per client, distinguished by the frame tag.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Client]struct{}

	store  *document.Store
	cfg    runtimeconfig.Config
	logger interfaces.Logger
}

// HubOption configures the hub at construction time.
type HubOption func(*Hub)

// WithLogger attaches the realtime module logger.
func WithLogger(provider interfaces.LoggerProvider) HubOption {
	return func(h *Hub) {
		h.logger = logging.RealtimeLogger(provider)
	}
}

// NewHub creates a hub serving connections against store.
func NewHub(store *document.Store, cfg runtimeconfig.Config, opts ...HubOption) *Hub {
	h := &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		store:  store,
		cfg:    cfg,
		logger: logging.NoOp(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeConn runs one editor connection until it closes: it attaches the
// client to the document session, pushes the timing config and the initial
// replica state, then dispatches inbound frames. It blocks for the life of
// the connection and always detaches the client on the way out.
func (h *Hub) ServeConn(ctx context.Context, conn Conn, path, clientID, name, color string) error {
	opened, err := h.store.Open(ctx, path)
	if err != nil {
		return wrapOpenError(err)
	}
	if err := h.store.Attach(ctx, path, clientID); err != nil {
		return wrapOpenError(err)
	}

	client := newClient(conn, path, clientID, name, color, h.cfg.Realtime.SendQueueDepth)
	conn.SetReadLimit(h.cfg.Realtime.MaxFrameBytes)
	h.register(client)
	defer h.disconnect(ctx, client)

	log := logging.WithConnectionContext(h.logger, path, clientID)
	log.Info("client connected")

	go client.writePump(h.cfg.Timing.Keepalive)

	// Config first so the client can schedule its timers, then the full
	// replica state so it converges before any incremental update lands.
	h.sendConfig(client)
	client.trySend(EncodeFrame(TagSync, opened.Export))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debug("connection closed", "error", err)
			return nil
		}
		tag, payload, err := DecodeFrame(raw)
		if err != nil {
			log.Warn("dropping malformed frame", "error", err)
			continue
		}
		h.dispatch(ctx, logging.WithFrameTag(log, tag.String()), client, tag, payload)
	}
}

// PushUpdate broadcasts a replica update to every client editing path. The
// autosave controller uses it after resetting a session to disk content.
func (h *Hub) PushUpdate(path string, update []byte) {
	if len(update) == 0 {
		return
	}
	h.broadcast(path, EncodeFrame(TagSync, update), nil)
}

// PushRender re-renders path if its content changed and broadcasts the fresh
// preview to the whole room.
func (h *Hub) PushRender(ctx context.Context, path string) error {
	html, changed, err := h.store.RenderIfChanged(ctx, path)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	payload, err := json.Marshal(RenderPayload{HTML: html})
	if err != nil {
		return err
	}
	h.broadcast(path, EncodeFrame(TagRender, payload), nil)
	return nil
}

// RoomSize reports how many clients are connected for path.
func (h *Hub) RoomSize(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[path])
}

func (h *Hub) dispatch(ctx context.Context, log interfaces.Logger, client *Client, tag Tag, payload []byte) {
	switch tag {
	case TagSync:
		h.handleSync(log, client, payload)
	case TagCursor:
		h.handleCursor(log, client, payload)
	case TagPing:
		h.handlePing(log, client, payload)
	case TagRenderRequest:
		if err := h.PushRender(ctx, client.Path); err != nil {
			log.Error("render push failed", "error", err)
		}
	default:
		// Config and Render only flow server to client.
		log.Warn("dropping server-only frame from client")
	}
}

// handleSync merges a client's replica update and fans it out to the peers in
// the room. The origin never sees its own update again; duplicates produce no
// deltas and are not rebroadcast.
func (h *Hub) handleSync(log interfaces.Logger, client *Client, payload []byte) {
	deltas, err := h.store.MergeRemote(client.Path, payload)
	if err != nil {
		log.Warn("dropping corrupt update", "error", err)
		return
	}
	if len(deltas) == 0 {
		return
	}
	h.broadcast(client.Path, EncodeFrame(TagSync, payload), client)
}

func (h *Hub) handleCursor(log interfaces.Logger, client *Client, payload []byte) {
	var cursor CursorPayload
	if err := decodePayload(payload, &cursor); err != nil {
		log.Warn("dropping invalid cursor frame", "error", err)
		return
	}

	h.store.SetCursor(client.Path, client.ID, document.Cursor{
		Line:   cursor.Line,
		Col:    cursor.Col,
		Offset: cursor.Offset,
	})

	cursor.ClientID = client.ID
	cursor.Name = client.Name
	cursor.Color = client.Color
	stamped, err := json.Marshal(cursor)
	if err != nil {
		log.Error("encode cursor frame", "error", err)
		return
	}
	h.broadcast(client.Path, EncodeFrame(TagCursor, stamped), client)
}

// handlePing records the latency the client measured on the previous round
// trip and echoes the frame so the client can measure the next one.
func (h *Hub) handlePing(log interfaces.Logger, client *Client, payload []byte) {
	var ping PingPayload
	if err := decodePayload(payload, &ping); err != nil {
		log.Warn("dropping invalid ping frame", "error", err)
		return
	}
	client.setLatency(ping.Latency)
	client.trySend(EncodeFrame(TagPing, payload))
}

func (h *Hub) sendConfig(client *Client) {
	payload, err := json.Marshal(h.cfg.Timing.Payload())
	if err != nil {
		h.logger.Error("encode timing config", "error", err)
		return
	}
	client.trySend(EncodeFrame(TagConfig, payload))
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[client.Path]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[client.Path] = room
	}
	room[client] = struct{}{}
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if room, ok := h.rooms[client.Path]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.rooms, client.Path)
		}
	}
}

// disconnect detaches a client: its cursor is cleared for the session and
// announced to peers before the document session releases the editor.
func (h *Hub) disconnect(ctx context.Context, client *Client) {
	h.unregister(client)
	client.close()

	h.store.ClearCursor(client.Path, client.ID)
	cleared, err := json.Marshal(CursorPayload{ClientID: client.ID, Cleared: true})
	if err == nil {
		h.broadcast(client.Path, EncodeFrame(TagCursor, cleared), nil)
	}

	if err := h.store.Close(ctx, client.Path, client.ID); err != nil {
		logging.WithConnectionContext(h.logger, client.Path, client.ID).
			Error("session close failed", "error", err)
	}
	logging.WithConnectionContext(h.logger, client.Path, client.ID).Info("client disconnected")
}

// broadcast fans a frame out to every client in path's room except the
// origin. Clients whose queues overflow are dropped on the spot.
func (h *Hub) broadcast(path string, frame []byte, except *Client) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.rooms[path]))
	for c := range h.rooms[path] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if !c.trySend(frame) {
			h.unregister(c)
			h.logger.Warn("dropped slow consumer", "path", path, "client_id", c.ID)
		}
	}
}

func wrapOpenError(err error) error {
	if goerrors.IsWrapped(err) {
		return err
	}
	return goerrors.Wrap(err, goerrors.CategoryCommand, "failed to open document session").
		WithTextCode("SESSION_OPEN_FAILED")
}
