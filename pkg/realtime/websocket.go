package realtime

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/boardstream-dev/boardstream/pkg/protocol"
)

// Start launches the session's read and write loops. Called by the
// server once the handshake has completed.
func (s *Session) Start() {
	go s.ReadLoop()
	go s.WriteLoop()
}

// ReadLoop reads client messages until the connection dies. Any socket
// error or expired read deadline (two missed heartbeats) forces
// teardown; malformed messages are answered and survived.
func (s *Session) ReadLoop() {
	defer s.Close()

	s.conn.SetReadLimit(s.config.MaxMessageSize)

	for {
		s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.logger.Error("read error", "error", err)
			}
			return
		}

		s.touch()
		s.msgsRecv.Add(1)

		msg, err := protocol.DecodeClientMessage(raw)
		if err != nil {
			// ProtocolError: answered, logged, connection stays open.
			s.logger.Warn("malformed message", "error", err)
			s.sendError(protocol.MsgError, "malformed message")
			continue
		}
		s.handleMessage(msg)
	}
}

// handleMessage dispatches one decoded client message.
func (s *Session) handleMessage(msg *protocol.ClientMessage) {
	switch msg.Type {
	case protocol.MsgSubscribe:
		data, err := msg.Subscription()
		if err != nil {
			s.sendError(protocol.MsgError, "malformed subscribe")
			return
		}
		s.handleSubscribe(data.Channel)

	case protocol.MsgUnsubscribe:
		data, err := msg.Subscription()
		if err != nil {
			s.sendError(protocol.MsgError, "malformed unsubscribe")
			return
		}
		s.handleUnsubscribe(data.Channel)

	case protocol.MsgTyping:
		data, err := msg.Typing()
		if err != nil {
			s.sendError(protocol.MsgError, "malformed typing")
			return
		}
		s.handleTyping(data.TaskID, true)

	case protocol.MsgStoppedTyping:
		data, err := msg.Typing()
		if err != nil {
			s.sendError(protocol.MsgError, "malformed stopped_typing")
			return
		}
		s.handleTyping(data.TaskID, false)

	case protocol.MsgPong:
		// Heartbeat bookkeeping happened in touch().

	case protocol.MsgAuthenticate:
		// The handshake already ran; a second authenticate is a
		// protocol slip, not a terminal condition.
		s.sendError(protocol.MsgError, "already authenticated")

	default:
		s.logger.Warn("unknown message type", "type", string(msg.Type))
		s.sendError(protocol.MsgError, "unknown message type")
	}
}

// handleSubscribe authorizes and registers the subscription. Denial is
// answered to this session only, with no channel mutation. subMu keeps
// the registration and its presence join atomic with respect to
// teardown: without it a close landing between the two would sweep the
// registration before the join is counted, stranding the presence
// entry.
func (s *Session) handleSubscribe(ch protocol.Channel) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	wasSubscribed := s.registry.IsSubscribed(s, ch)

	err := s.registry.Subscribe(context.Background(), s, ch)
	if err != nil {
		s.logger.Info("subscribe denied", "channel", ch.String(), "error", err)
		s.sendError(protocol.MsgSubscriptionError, "not a member of "+ch.String())
		return
	}

	s.markActive()
	s.sendControl(protocol.MsgSubscriptionSuccess, protocol.SubscriptionSuccessData{Channel: ch})

	// Presence counts sessions, not subscribe calls; an idempotent
	// re-subscribe must not double-join.
	if !wasSubscribed {
		s.presence.Join(ch, s.User)
	}
}

func (s *Session) handleUnsubscribe(ch protocol.Channel) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	if !s.registry.IsSubscribed(s, ch) {
		return
	}
	s.registry.Unsubscribe(s, ch)
	s.presence.Leave(ch, s.User)
}

// handleTyping routes typing indicators through the presence tracker.
// Indicators live on the task channel; a session may only signal on
// channels it is subscribed to.
func (s *Session) handleTyping(taskID string, typing bool) {
	ch := protocol.TaskChannel(taskID)
	if !s.registry.IsSubscribed(s, ch) {
		s.sendError(protocol.MsgError, "not subscribed to "+ch.String())
		return
	}
	if typing {
		s.presence.Typing(ch, s.User, taskID)
	} else {
		s.presence.StopTyping(ch, s.User, taskID)
	}
}

// WriteLoop drains the outbound queue and emits heartbeat pings. It is
// the only writer of data frames on the connection.
func (s *Session) WriteLoop() {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-s.outbound:
			if err := s.writeMessage(msg); err != nil {
				s.logger.Error("write error", "error", err)
				go s.Close()
				return
			}

		case <-ticker.C:
			if err := s.writeMessage(protocol.NewServerMessage(protocol.MsgPing, nil)); err != nil {
				go s.Close()
				return
			}

		case <-s.done:
			return
		}
	}
}

func (s *Session) writeMessage(msg *protocol.ServerMessage) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	s.msgsSent.Add(1)
	return nil
}
