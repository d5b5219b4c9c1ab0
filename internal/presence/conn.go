package presence

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gorilla/websocket"
)

// Conn is the slice of the websocket surface the roster channel drives,
// satisfied by *websocket.Conn.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ServeConn runs one presence connection: the client is joined, roster
// snapshots stream out as JSON, and inbound messages are heartbeats. The
// participant leaves the roster when the connection closes.
func (s *Service) ServeConn(ctx context.Context, conn Conn, join JoinRequest) error {
	if err := s.Join(join); err != nil {
		return err
	}
	defer s.Leave(join.ClientID)

	sub := s.Subscribe()
	defer sub.Close()

	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case roster, ok := <-sub.Roster():
				if !ok {
					return
				}
				payload, err := json.Marshal(roster)
				if err != nil {
					s.logger.Error("encode roster", "error", err)
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil
		}

		var hb Heartbeat
		if err := json.Unmarshal(raw, &hb); err != nil {
			s.logger.Warn("dropping malformed heartbeat", "client_id", join.ClientID, "error", err)
			continue
		}
		// The connection authenticates the sender; the payload cannot speak
		// for anyone else.
		hb.ClientID = join.ClientID

		if err := s.Beat(hb); err != nil {
			if errors.Is(err, ErrUnknownClient) {
				// Swept while the connection was quiet; rejoin transparently.
				rejoin := join
				rejoin.Page = hb.Page
				if err := s.Join(rejoin); err == nil {
					continue
				}
			}
			s.logger.Warn("dropping invalid heartbeat", "client_id", join.ClientID, "error", err)
		}
	}
}
