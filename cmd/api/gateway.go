package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/koomind/koomind-backend/internal/apperror"
)

// Socket events.
const (
	eventJoin    = "join"
	eventJoined  = "joined"
	eventLeave   = "leave"
	eventLeft    = "left"
	eventMessage = "message"
	eventError   = "error"
)

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type messageInput struct {
	Conversation string `json:"conversation"`
	Text         string `json:"text"`
}

type errorData struct {
	Message string `json:"message"`
}

// handleSocket authenticates the handshake, upgrades, then serves frames
// until the client goes away. The token comes from the "token" query
// parameter or the Authorization header.
func (s *Server) handleSocket(c echo.Context) error {
	credential := c.QueryParam("token")
	if credential == "" {
		credential = c.Request().Header.Get(echo.HeaderAuthorization)
	}
	claims, userID, err := s.authenticate(credential)
	if err != nil {
		return err
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		s.logger.Debug("websocket upgrade failed", "err", err)
		return nil
	}

	conn := newConn(userID, claims.Name, ws)
	s.hub.Register(conn)
	conn.Start()
	logger := s.logger.With("conn", conn.ID(), "user", userID.Hex(), "name", conn.name)
	logger.Debug("socket connected")

	defer func() {
		s.hub.Unregister(conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
		logger.Debug("socket disconnected")
	}()

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	ctx := c.Request().Context()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("socket read failed", "err", err)
			}
			return nil
		}
		// any inbound frame proves liveness
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			s.replyError(logger, conn, apperror.Validation("invalid payload"))
			continue
		}

		switch frame.Event {
		case eventJoin:
			s.handleJoin(ctx, logger, conn, frame.Data)
		case eventLeave:
			s.handleLeave(logger, conn, frame.Data)
		case eventMessage:
			s.handleMessage(ctx, logger, conn, frame.Data)
		default:
			s.replyError(logger, conn, apperror.Validation("unknown event"))
		}
	}
}

// roomID accepts either a bare id string or {"conversation": id}.
func roomID(data json.RawMessage) (bson.ObjectID, error) {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var wrapped struct {
			Conversation string `json:"conversation"`
		}
		if json.Unmarshal(data, &wrapped) != nil {
			return bson.NilObjectID, apperror.Validation("conversation is required")
		}
		raw = wrapped.Conversation
	}
	if strings.TrimSpace(raw) == "" {
		return bson.NilObjectID, apperror.Validation("conversation is required")
	}
	return parseObjectID(raw, "conversation id")
}

func (s *Server) handleJoin(ctx context.Context, logger *log.Logger, conn *Conn, data json.RawMessage) {
	convID, err := roomID(data)
	if err != nil {
		s.replyError(logger, conn, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()
	if err := s.messenger.CanJoin(ctx, convID, conn.userID); err != nil {
		s.replyError(logger, conn, err)
		return
	}

	if !s.hub.Join(convID.Hex(), conn) {
		// the read loop is still running but the hub already dropped us
		s.replyError(logger, conn, apperror.Conflict("connection is closing"))
		return
	}
	s.reply(logger, conn, eventJoined, convID.Hex())
}

func (s *Server) handleLeave(logger *log.Logger, conn *Conn, data json.RawMessage) {
	convID, err := roomID(data)
	if err != nil {
		s.replyError(logger, conn, err)
		return
	}
	s.hub.Leave(convID.Hex(), conn)
	s.reply(logger, conn, eventLeft, convID.Hex())
}

// handleMessage persists the message and only then fans it out to the room,
// sender included.
func (s *Server) handleMessage(ctx context.Context, logger *log.Logger, conn *Conn, data json.RawMessage) {
	if !s.msgLimiter.Allow(conn.userID.Hex()) {
		s.replyError(logger, conn, apperror.RateLimited("you are sending messages too fast"))
		return
	}

	var in messageInput
	if err := json.Unmarshal(data, &in); err != nil {
		s.replyError(logger, conn, apperror.Validation("invalid message payload"))
		return
	}
	if strings.TrimSpace(in.Conversation) == "" || strings.TrimSpace(in.Text) == "" {
		s.replyError(logger, conn, apperror.Validation("conversation and text are required"))
		return
	}
	convID, err := parseObjectID(in.Conversation, "conversation id")
	if err != nil {
		s.replyError(logger, conn, err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	view, err := s.messenger.AppendMessage(ctx, convID, conn.userID, in.Text)
	if err != nil {
		s.replyError(logger, conn, err)
		return
	}

	payload, err := json.Marshal(outboundFrame{Event: eventMessage, Data: view})
	if err != nil {
		s.replyError(logger, conn, apperror.Internal("failed to encode message", err))
		return
	}
	if err := s.bus.Publish(ctx, convID.Hex(), payload); err != nil {
		s.replyError(logger, conn, apperror.Internal("failed to deliver message", err))
		return
	}
}

func (s *Server) reply(logger *log.Logger, conn *Conn, event string, data any) {
	payload, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		logger.Error("failed to encode frame", "event", event, "err", err)
		return
	}
	if err := conn.Send(payload); err != nil && !errors.Is(err, errConnClosed) {
		logger.Warn("failed to queue frame", "event", event, "err", err)
	}
}

// replyError reports err to the initiating socket only. Internal details are
// logged, never sent.
func (s *Server) replyError(logger *log.Logger, conn *Conn, err error) {
	if apperror.Is(err, apperror.KindInternal) {
		logger.Error("socket event failed", "err", err)
	}
	s.reply(logger, conn, eventError, errorData{Message: apperror.PublicMessage(err)})
}

// checkOrigin admits non-browser clients and browsers from the configured
// origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range s.cfg.Origins() {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	// same-origin requests are always allowed
	return strings.EqualFold(u.Host, r.Host)
}
