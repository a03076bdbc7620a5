package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/season179/wabridge/internal/provider"
)

const writeTimeout = 5 * time.Second

type commandFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessageCommand struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type sendMediaCommand struct {
	ChatID string `json:"chatId"`
	Media  struct {
		Mimetype string `json:"mimetype"`
		Data     string `json:"data"`
		Filename string `json:"filename"`
	} `json:"media"`
}

// handleWS upgrades the connection, replays the current session state
// and then streams bus events until the client goes away. Send
// commands arrive on the same connection; their failures are reported
// only to this connection, never broadcast.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser origin enforcement is already disabled on the REST
		// surface; the socket matches it.
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server error")

	id := uuid.NewString()
	log := s.logger.With(zap.String("conn_id", id))
	log.Info("subscriber attached", zap.String("remote", r.RemoteAddr))

	events, unsubscribe := s.bus.Subscribe("", 256)
	defer unsubscribe()

	ctx := r.Context()

	// Replay happens after subscribing, so nothing published in
	// between is lost; a duplicate frame is harmless, a gap is not.
	for _, frame := range replayFrames(s.session.State()) {
		if err := writeFrame(ctx, conn, frame); err != nil {
			log.Warn("replay write failed", zap.Error(err))
			return
		}
	}

	go s.readPump(ctx, conn, log)

	for {
		select {
		case evt, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "shutting down")
				return
			}
			frame, ok := frameFor(evt)
			if !ok {
				continue
			}
			if err := writeFrame(ctx, conn, frame); err != nil {
				log.Info("subscriber detached", zap.Error(err))
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
	}
}

func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var cmd commandFrame
		if err := json.Unmarshal(data, &cmd); err != nil {
			log.Warn("malformed command frame", zap.Error(err))
			continue
		}
		switch cmd.Event {
		case "sendMessage":
			s.handleSendMessage(ctx, conn, log, cmd.Data)
		case "sendMedia":
			s.handleSendMedia(ctx, conn, log, cmd.Data)
		default:
			log.Warn("unknown command", zap.String("event", cmd.Event))
		}
	}
}

func (s *Server) handleSendMessage(ctx context.Context, conn *websocket.Conn, log *zap.Logger, raw json.RawMessage) {
	var cmd sendMessageCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.writeSendError(ctx, conn, log, "", "malformed sendMessage payload")
		return
	}
	if _, err := s.session.SendText(ctx, cmd.ChatID, cmd.Content); err != nil {
		log.Warn("send failed", zap.String("chat_id", cmd.ChatID), zap.Error(err))
		s.writeSendError(ctx, conn, log, cmd.ChatID, err.Error())
	}
}

func (s *Server) handleSendMedia(ctx context.Context, conn *websocket.Conn, log *zap.Logger, raw json.RawMessage) {
	var cmd sendMediaCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.writeSendError(ctx, conn, log, "", "malformed sendMedia payload")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(cmd.Media.Data)
	if err != nil {
		s.writeSendError(ctx, conn, log, cmd.ChatID, "media data is not valid base64")
		return
	}
	media := provider.Media{
		Mimetype: cmd.Media.Mimetype,
		Filename: cmd.Media.Filename,
		Data:     payload,
	}
	if _, err := s.session.SendMedia(ctx, cmd.ChatID, media); err != nil {
		log.Warn("media send failed", zap.String("chat_id", cmd.ChatID), zap.Error(err))
		s.writeSendError(ctx, conn, log, cmd.ChatID, err.Error())
	}
}

// writeSendError reports a failed command on the issuing connection.
func (s *Server) writeSendError(ctx context.Context, conn *websocket.Conn, log *zap.Logger, chatID, reason string) {
	frame := Frame{Event: "send_error", Data: sendErrorPayload{ChatID: chatID, Error: reason}}
	if err := writeFrame(ctx, conn, frame); err != nil {
		log.Warn("send_error write failed", zap.Error(err))
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
