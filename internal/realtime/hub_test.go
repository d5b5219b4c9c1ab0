package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/goliatone/go-live-edit/internal/crdt"
	"github.com/goliatone/go-live-edit/internal/document"
	"github.com/goliatone/go-live-edit/internal/realtime"
	"github.com/goliatone/go-live-edit/internal/runtimeconfig"
	"github.com/goliatone/go-live-edit/pkg/interfaces"
)

// fakeConn is an in-memory stand-in for a websocket connection: frames the
// test pushes into in come out of ReadMessage, frames the hub writes land on
// writes.
type fakeConn struct {
	in     chan []byte
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		writes: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame := <-c.in:
		return websocket.BinaryMessage, frame, nil
	case <-c.closed:
		return 0, nil, errors.New("fake conn closed")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case c.writes <- data:
		return nil
	case <-c.closed:
		return errors.New("fake conn closed")
	}
}

func (c *fakeConn) SetReadLimit(int64) {}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func nextFrame(t *testing.T, conn *fakeConn) (realtime.Tag, []byte) {
	t.Helper()
	select {
	case raw := <-conn.writes:
		tag, payload, err := realtime.DecodeFrame(raw)
		if err != nil {
			t.Fatalf("decode written frame: %v", err)
		}
		return tag, payload
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a frame")
		return 0, nil
	}
}

func expectNoFrame(t *testing.T, conn *fakeConn) {
	t.Helper()
	select {
	case raw := <-conn.writes:
		tag, _, _ := realtime.DecodeFrame(raw)
		t.Fatalf("unexpected %v frame", tag)
	case <-time.After(50 * time.Millisecond):
	}
}

func passthroughRenderer() interfaces.Renderer {
	return interfaces.RendererFunc(func(_ context.Context, raw []byte) ([]byte, error) {
		return append([]byte("<p>"), append(raw, []byte("</p>")...)...), nil
	})
}

type testRig struct {
	hub   *realtime.Hub
	store *document.Store
	path  string
}

func newRig(t *testing.T, content string) *testRig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	store := document.NewStore(passthroughRenderer())
	return &testRig{
		hub:   realtime.NewHub(store, runtimeconfig.DefaultConfig()),
		store: store,
		path:  path,
	}
}

// connect runs ServeConn for a fake client and consumes the config and
// initial sync frames, returning the export payload from the handshake.
func (r *testRig) connect(t *testing.T, conn *fakeConn, id, name string) []byte {
	t.Helper()
	go func() {
		if err := r.hub.ServeConn(context.Background(), conn, r.path, id, name, "#336699"); err != nil {
			t.Errorf("serve %s: %v", id, err)
		}
	}()

	tag, payload := nextFrame(t, conn)
	if tag != realtime.TagConfig {
		t.Fatalf("expected config frame first, got %v", tag)
	}
	var timing runtimeconfig.TimingPayload
	if err := json.Unmarshal(payload, &timing); err != nil {
		t.Fatalf("decode timing payload: %v", err)
	}
	if timing.HeartbeatMS <= 0 {
		t.Fatalf("timing payload missing heartbeat interval: %+v", timing)
	}

	tag, export := nextFrame(t, conn)
	if tag != realtime.TagSync {
		t.Fatalf("expected initial sync frame, got %v", tag)
	}
	return export
}

func waitForRoom(t *testing.T, hub *realtime.Hub, path string, size int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.RoomSize(path) == size {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("room never reached size %d, at %d", size, hub.RoomSize(path))
}

func TestSyncBroadcastsToPeersNotOrigin(t *testing.T) {
	rig := newRig(t, "hello")
	connA, connB := newFakeConn(), newFakeConn()
	exportA := rig.connect(t, connA, "a", "Ann")
	rig.connect(t, connB, "b", "Ben")
	waitForRoom(t, rig.hub, rig.path, 2)

	peer := crdt.New("peer-a")
	if _, err := peer.MergeUpdate(exportA); err != nil {
		t.Fatalf("seed peer: %v", err)
	}
	update, _, err := peer.ApplyLocalEdit("hello", "hello world")
	if err != nil {
		t.Fatalf("peer edit: %v", err)
	}
	connA.in <- realtime.EncodeFrame(realtime.TagSync, update)

	tag, payload := nextFrame(t, connB)
	if tag != realtime.TagSync {
		t.Fatalf("expected sync frame at peer, got %v", tag)
	}
	if string(payload) != string(update) {
		t.Fatalf("peer received a different update")
	}
	expectNoFrame(t, connA)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if raw, _ := rig.store.Raw(rig.path); raw == "hello world" {
			break
		}
		if time.Now().After(deadline) {
			raw, _ := rig.store.Raw(rig.path)
			t.Fatalf("session never converged, raw=%q", raw)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDuplicateUpdateNotRebroadcast(t *testing.T) {
	rig := newRig(t, "base")
	connA, connB := newFakeConn(), newFakeConn()
	exportA := rig.connect(t, connA, "a", "Ann")
	rig.connect(t, connB, "b", "Ben")
	waitForRoom(t, rig.hub, rig.path, 2)

	peer := crdt.New("peer-a")
	if _, err := peer.MergeUpdate(exportA); err != nil {
		t.Fatalf("seed peer: %v", err)
	}
	update, _, err := peer.ApplyLocalEdit("base", "based")
	if err != nil {
		t.Fatalf("peer edit: %v", err)
	}

	connA.in <- realtime.EncodeFrame(realtime.TagSync, update)
	if tag, _ := nextFrame(t, connB); tag != realtime.TagSync {
		t.Fatalf("expected first sync broadcast")
	}

	connA.in <- realtime.EncodeFrame(realtime.TagSync, update)
	expectNoFrame(t, connB)
}

func TestCursorStampedAndBroadcast(t *testing.T) {
	rig := newRig(t, "text")
	connA, connB := newFakeConn(), newFakeConn()
	rig.connect(t, connA, "a", "Ann")
	rig.connect(t, connB, "b", "Ben")
	waitForRoom(t, rig.hub, rig.path, 2)

	connA.in <- realtime.EncodeFrame(realtime.TagCursor, []byte(`{"line":1,"col":3,"offset":2}`))

	tag, payload := nextFrame(t, connB)
	if tag != realtime.TagCursor {
		t.Fatalf("expected cursor frame, got %v", tag)
	}
	var cursor realtime.CursorPayload
	if err := json.Unmarshal(payload, &cursor); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if cursor.ClientID != "a" || cursor.Name != "Ann" || cursor.Offset != 2 {
		t.Fatalf("cursor not stamped with origin identity: %+v", cursor)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if cur, ok := rig.store.Cursors(rig.path)["a"]; ok && cur.Offset == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cursor never recorded in the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestInvalidCursorDropped(t *testing.T) {
	rig := newRig(t, "text")
	connA, connB := newFakeConn(), newFakeConn()
	rig.connect(t, connA, "a", "Ann")
	rig.connect(t, connB, "b", "Ben")
	waitForRoom(t, rig.hub, rig.path, 2)

	connA.in <- realtime.EncodeFrame(realtime.TagCursor, []byte(`{"line":1,"col":1,"offset":-4}`))
	expectNoFrame(t, connB)
	if _, ok := rig.store.Cursors(rig.path)["a"]; ok {
		t.Fatalf("invalid cursor must not be recorded")
	}
}

func TestPingEchoedToOriginOnly(t *testing.T) {
	rig := newRig(t, "text")
	connA, connB := newFakeConn(), newFakeConn()
	rig.connect(t, connA, "a", "Ann")
	rig.connect(t, connB, "b", "Ben")
	waitForRoom(t, rig.hub, rig.path, 2)

	ping := []byte(`{"clientTime":1700000000000,"latency":42}`)
	connA.in <- realtime.EncodeFrame(realtime.TagPing, ping)

	tag, payload := nextFrame(t, connA)
	if tag != realtime.TagPing {
		t.Fatalf("expected ping echo, got %v", tag)
	}
	if string(payload) != string(ping) {
		t.Fatalf("ping payload mangled: %q", payload)
	}
	expectNoFrame(t, connB)
}

func TestRenderRequestBroadcastsToRoom(t *testing.T) {
	rig := newRig(t, "one")
	connA, connB := newFakeConn(), newFakeConn()
	exportA := rig.connect(t, connA, "a", "Ann")
	rig.connect(t, connB, "b", "Ben")
	waitForRoom(t, rig.hub, rig.path, 2)

	// Nothing changed since open, so a request is a no-op.
	connA.in <- realtime.EncodeFrame(realtime.TagRenderRequest, nil)
	expectNoFrame(t, connA)

	peer := crdt.New("peer-a")
	if _, err := peer.MergeUpdate(exportA); err != nil {
		t.Fatalf("seed peer: %v", err)
	}
	update, _, err := peer.ApplyLocalEdit("one", "one two")
	if err != nil {
		t.Fatalf("peer edit: %v", err)
	}
	connA.in <- realtime.EncodeFrame(realtime.TagSync, update)
	if tag, _ := nextFrame(t, connB); tag != realtime.TagSync {
		t.Fatalf("expected sync broadcast before render")
	}

	connA.in <- realtime.EncodeFrame(realtime.TagRenderRequest, nil)

	for _, conn := range []*fakeConn{connA, connB} {
		tag, payload := nextFrame(t, conn)
		if tag != realtime.TagRender {
			t.Fatalf("expected render frame, got %v", tag)
		}
		var render realtime.RenderPayload
		if err := json.Unmarshal(payload, &render); err != nil {
			t.Fatalf("decode render payload: %v", err)
		}
		if render.HTML != "<p>one two</p>" {
			t.Fatalf("unexpected html %q", render.HTML)
		}
	}
}

func TestMalformedFrameKeepsConnectionAlive(t *testing.T) {
	rig := newRig(t, "text")
	connA := newFakeConn()
	rig.connect(t, connA, "a", "Ann")
	waitForRoom(t, rig.hub, rig.path, 1)

	connA.in <- []byte{}
	connA.in <- []byte{250}

	ping := []byte(`{"clientTime":5,"latency":0}`)
	connA.in <- realtime.EncodeFrame(realtime.TagPing, ping)
	if tag, _ := nextFrame(t, connA); tag != realtime.TagPing {
		t.Fatalf("connection should survive malformed frames")
	}
}

func TestDisconnectClearsCursorAndAnnounces(t *testing.T) {
	rig := newRig(t, "text")
	connA, connB := newFakeConn(), newFakeConn()
	rig.connect(t, connA, "a", "Ann")
	rig.connect(t, connB, "b", "Ben")
	waitForRoom(t, rig.hub, rig.path, 2)

	connA.in <- realtime.EncodeFrame(realtime.TagCursor, []byte(`{"line":1,"col":2,"offset":1}`))
	if tag, _ := nextFrame(t, connB); tag != realtime.TagCursor {
		t.Fatalf("expected cursor broadcast")
	}

	connA.Close()
	waitForRoom(t, rig.hub, rig.path, 1)

	tag, payload := nextFrame(t, connB)
	if tag != realtime.TagCursor {
		t.Fatalf("expected cursor-cleared frame, got %v", tag)
	}
	var cursor realtime.CursorPayload
	if err := json.Unmarshal(payload, &cursor); err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if cursor.ClientID != "a" || !cursor.Cleared {
		t.Fatalf("expected cleared caret for client a, got %+v", cursor)
	}

	if _, ok := rig.store.Cursors(rig.path)["a"]; ok {
		t.Fatalf("cursor must be cleared from the session")
	}
	if !rig.store.IsEditing(rig.path) {
		t.Fatalf("remaining editor must keep the session alive")
	}
}

func TestPushUpdateReachesWholeRoom(t *testing.T) {
	rig := newRig(t, "disk")
	connA, connB := newFakeConn(), newFakeConn()
	rig.connect(t, connA, "a", "Ann")
	rig.connect(t, connB, "b", "Ben")
	waitForRoom(t, rig.hub, rig.path, 2)

	update, err := rig.store.UpdateRaw(context.Background(), rig.path, "disk changed")
	if err != nil {
		t.Fatalf("update raw: %v", err)
	}
	rig.hub.PushUpdate(rig.path, update)

	for _, conn := range []*fakeConn{connA, connB} {
		tag, payload := nextFrame(t, conn)
		if tag != realtime.TagSync {
			t.Fatalf("expected sync push, got %v", tag)
		}
		if string(payload) != string(update) {
			t.Fatalf("push payload mangled")
		}
	}
}
