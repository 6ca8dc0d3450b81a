package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kpmajid/chat-app/internal/apperr"
	"github.com/kpmajid/chat-app/internal/auth"
	"github.com/kpmajid/chat-app/internal/config"
	"github.com/kpmajid/chat-app/internal/engine"
)

// Inbound event types. Each mirrors an HTTP mutation and runs through the
// same engine method, so side effects and authorization are identical on
// both transports.
const (
	typeSendMessage   = "sendMessage"
	typeUpdateMessage = "updateMessage"
	typeDeleteMessage = "deleteMessage"
	typeMarkRead      = "markRead"
)

type Handler struct {
	eng       *engine.Engine
	validator *auth.Validator
	log       *zap.SugaredLogger
	cfg       *config.Config
}

func NewHandler(eng *engine.Engine, validator *auth.Validator, cfg *config.Config, log *zap.SugaredLogger) *Handler {
	return &Handler{eng: eng, validator: validator, cfg: cfg, log: log}
}

// Serve handles one websocket session: authenticate the handshake token,
// register presence, then loop on request frames until the peer goes away.
// Expected URL: /ws?token=<jwt>
func (h *Handler) Serve(c *websocket.Conn) {
	token := c.Query("token")
	if token == "" {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"message":"missing token"}}`))
		_ = c.Close()
		return
	}
	claims, err := h.validator.Validate(token)
	if err != nil {
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"message":"invalid token"}}`))
		_ = c.Close()
		return
	}

	connID := uuid.NewString()
	client := NewClient(c, claims.UserID, connID, h.log)

	ctx := context.Background()
	if err := h.eng.Connect(ctx, claims.UserID, claims.Username, claims.Avatar, connID, client); err != nil {
		h.log.Warnw("ws connect", "user_id", claims.UserID, "err", err)
		_ = c.Close()
		return
	}
	h.log.Infow("ws connected", "user_id", claims.UserID, "conn_id", connID)

	go client.writePump(h.cfg.PingInterval, h.cfg.WriteDeadline)

	defer func() {
		h.eng.Disconnect(ctx, claims.UserID, connID)
		client.Close()
		h.log.Infow("ws disconnected", "user_id", claims.UserID, "conn_id", connID)
	}()

	c.SetReadLimit(h.cfg.WS.MaxMessageBytes)
	// A peer that stops answering keepalive pings trips the read deadline,
	// which unwinds the loop and releases its registry slot.
	wait := readWait(h.cfg)
	_ = c.SetReadDeadline(time.Now().Add(wait))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		mt, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		h.handleFrame(ctx, client, claims.UserID, &env)
	}
}

type sendMessageReq struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
}

type updateMessageReq struct {
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

type deleteMessageReq struct {
	MessageID string `json:"message_id"`
}

type markReadReq struct {
	ConversationID string `json:"conversation_id"`
}

func (h *Handler) handleFrame(ctx context.Context, client *Client, userID string, env *Envelope) {
	switch env.Type {
	case typeSendMessage:
		var req sendMessageReq
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			h.nack(client, env.ID, apperr.New(apperr.CodeInvalidArgument, "invalid payload"))
			return
		}
		res, err := h.eng.SendMessage(ctx, userID, req.ConversationID, req.Content)
		if err != nil {
			h.nack(client, env.ID, err)
			return
		}
		client.Ack(env.ID, map[string]any{
			"status":       "success",
			"message":      res.Message,
			"conversation": res.Conversation.ForUser(userID),
		})

	case typeUpdateMessage:
		var req updateMessageReq
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			h.nack(client, env.ID, apperr.New(apperr.CodeInvalidArgument, "invalid payload"))
			return
		}
		msg, err := h.eng.EditMessage(ctx, userID, req.MessageID, req.Content)
		if err != nil {
			h.nack(client, env.ID, err)
			return
		}
		client.Ack(env.ID, map[string]any{"status": "success", "message": msg})

	case typeDeleteMessage:
		var req deleteMessageReq
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			h.nack(client, env.ID, apperr.New(apperr.CodeInvalidArgument, "invalid payload"))
			return
		}
		res, err := h.eng.DeleteMessage(ctx, userID, req.MessageID)
		if err != nil {
			h.nack(client, env.ID, err)
			return
		}
		client.Ack(env.ID, map[string]any{
			"status":     "success",
			"message_id": res.MessageID,
			"deleted_at": res.DeletedAt,
		})

	case typeMarkRead:
		var req markReadReq
		if err := json.Unmarshal(env.Payload, &req); err != nil {
			h.nack(client, env.ID, apperr.New(apperr.CodeInvalidArgument, "invalid payload"))
			return
		}
		if err := h.eng.MarkRead(ctx, userID, req.ConversationID); err != nil {
			h.nack(client, env.ID, err)
			return
		}
		client.Ack(env.ID, map[string]any{
			"status":          "success",
			"conversation_id": req.ConversationID,
			"unread_count":    0,
		})

	default:
		h.log.Debugw("unknown ws frame type", "type", env.Type, "user_id", userID)
	}
}

// readWait is how long a peer gets to answer a keepalive ping before its
// read loop gives up. One ping interval plus the write deadline covers the
// slowest successful ping round trip.
func readWait(cfg *config.Config) time.Duration {
	return cfg.PingInterval + cfg.WriteDeadline
}

func (h *Handler) nack(client *Client, id string, err error) {
	client.Ack(id, map[string]any{
		"status":  "error",
		"code":    string(apperr.CodeOf(err)),
		"message": apperr.Message(err),
	})
}
