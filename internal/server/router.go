package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/faasify-official/websocket-server/internal/backoff"
	"github.com/faasify-official/websocket-server/internal/logger"
	"github.com/faasify-official/websocket-server/internal/protocol"
	"github.com/faasify-official/websocket-server/internal/utils"
)

// handleFrame validates the envelope and dispatches to the per-event
// handler. The size check runs on the raw frame before any JSON parse.
func (c *conn) handleFrame(data []byte) {
	if c.currentState() != stateActive {
		c.sendError(protocol.NewError(protocol.CodeAuthFailed, "authentication required"))
		c.close()
		return
	}

	if len(data) > c.server.opts.MaxFrameBytes {
		logger.WarnF("[%s] Frame of %d bytes exceeds the configured limit", c.client.ID, len(data))
		c.sendError(protocol.NewError(protocol.CodeValidation, "frame exceeds the maximum size").
			WithDetail("maxBytes", c.server.opts.MaxFrameBytes))
		return
	}

	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		if errors.Is(err, protocol.ErrMissingType) {
			c.sendError(protocol.NewError(protocol.CodeValidation, "frame is missing the type field"))
		} else {
			c.sendError(protocol.NewError(protocol.CodeValidation, "frame is not valid JSON"))
		}
		return
	}

	logger.DebugF("[%s] Receive %s frame", c.client.ID, frame.Type)

	switch frame.Type {
	case protocol.EventChatMessage:
		c.handleMessage(frame.Payload)
	case protocol.EventChatRead:
		c.handleRead(frame.Payload)
	case protocol.EventChatTyping:
		c.handleTyping(frame.Payload)
	case protocol.EventPing:
		c.handlePing()
	default:
		c.sendError(protocol.NewError(protocol.CodeInvalidMessage, "unsupported event type").
			WithDetail("type", frame.Type))
	}
}

func (c *conn) handleMessage(payload json.RawMessage) {
	var in protocol.MessageIn
	if err := json.Unmarshal(payload, &in); err != nil || in.ChatID == "" {
		c.sendError(protocol.NewError(protocol.CodeValidation, "invalid message payload"))
		return
	}
	if in.Content == "" {
		c.sendError(protocol.NewError(protocol.CodeValidation, "message content is required"))
		return
	}
	if !c.sess.InChat(in.ChatID) {
		c.sendError(protocol.NewError(protocol.CodeNotParticipant, "not a participant of this chat"))
		return
	}

	// 先持久化，失败时不广播
	message, err := c.server.opts.API.CreateMessage(context.Background(), c.sess.Token, in.ChatID, in.Content)
	if err != nil {
		logger.ErrorF("[%s] Fail to persist message for chat %s, details: %v", c.client.ID, in.ChatID, err)
		c.sendError(c.downstreamError(err))
		return
	}

	// 等待下游期间连接可能已经关闭，响应直接丢弃
	if c.server.directory.ByConnection(c.client.ID) == nil {
		logger.DebugF("[%s] Session gone before message broadcast, dropping response", c.client.ID)
		return
	}

	c.broadcast(in.ChatID, protocol.EventChatMessage, protocol.MessageOut{ChatID: in.ChatID, Message: message}, true)
}

func (c *conn) handleRead(payload json.RawMessage) {
	var in protocol.ReadIn
	if err := json.Unmarshal(payload, &in); err != nil || in.ChatID == "" || in.MessageID == "" {
		c.sendError(protocol.NewError(protocol.CodeValidation, "invalid read payload"))
		return
	}
	if !c.sess.InChat(in.ChatID) {
		c.sendError(protocol.NewError(protocol.CodeNotParticipant, "not a participant of this chat"))
		return
	}

	if err := c.server.opts.API.MarkRead(context.Background(), c.sess.Token, in.ChatID, in.MessageID); err != nil {
		logger.ErrorF("[%s] Fail to persist read state for chat %s, details: %v", c.client.ID, in.ChatID, err)
		c.sendError(c.downstreamError(err))
		return
	}

	if c.server.directory.ByConnection(c.client.ID) == nil {
		return
	}

	// 已读回执包含发送方本人，保证同一用户的其它连接保持同步
	c.broadcast(in.ChatID, protocol.EventChatRead, protocol.ReadOut{
		ChatID:    in.ChatID,
		MessageID: in.MessageID,
		UserID:    c.sess.User.ID,
		ReadAt:    utils.NowRFC3339(),
	}, false)
}

func (c *conn) handleTyping(payload json.RawMessage) {
	var in protocol.TypingIn
	if err := json.Unmarshal(payload, &in); err != nil || in.ChatID == "" {
		c.sendError(protocol.NewError(protocol.CodeValidation, "invalid typing payload"))
		return
	}
	if !c.sess.InChat(in.ChatID) {
		c.sendError(protocol.NewError(protocol.CodeNotParticipant, "not a participant of this chat"))
		return
	}

	c.broadcast(in.ChatID, protocol.EventChatTyping, protocol.TypingOut{
		ChatID:   in.ChatID,
		UserID:   c.sess.User.ID,
		UserName: c.sess.User.Name,
		IsTyping: in.IsTyping,
	}, true)

	if in.IsTyping {
		chatID := in.ChatID
		c.server.directory.SetTypingTimer(c.client.ID, chatID, c.server.opts.TypingTimeout, func() {
			c.typingExpired(chatID)
		})
	} else {
		c.server.directory.ClearTypingTimer(c.client.ID, in.ChatID)
	}
}

// typingExpired runs on the timer goroutine and may race with teardown,
// so it re-checks that the session and its membership still exist.
func (c *conn) typingExpired(chatID string) {
	sess := c.server.directory.ByConnection(c.client.ID)
	if sess == nil || !sess.InChat(chatID) {
		return
	}

	c.broadcast(chatID, protocol.EventChatTyping, protocol.TypingOut{
		ChatID:   chatID,
		UserID:   sess.User.ID,
		UserName: sess.User.Name,
		IsTyping: false,
	}, true)
}

func (c *conn) handlePing() {
	c.sendEvent(protocol.EventPong, protocol.PongOut{Timestamp: utils.NowMillis()})
}

func (c *conn) broadcast(chatID string, eventType string, payload any, excludeSelf bool) {
	data, err := protocol.EncodeFrame(eventType, payload)
	if err != nil {
		logger.ErrorF("[%s] Fail to encode %s frame, details: %v", c.client.ID, eventType, err)
		c.sendError(protocol.NewError(protocol.CodeInternalError, "internal error"))
		return
	}

	exclude := c.client
	if !excludeSelf {
		exclude = nil
	}
	delivered := c.server.registry.Broadcast(chatID, data, exclude)
	logger.DebugF("[%s] Broadcast %s to %d members of chat %s", c.client.ID, eventType, delivered, chatID)
}

// downstreamError 将下游失败映射为发给客户端的错误帧
func (c *conn) downstreamError(err error) *protocol.Error {
	var statusErr *backoff.StatusError
	if errors.As(err, &statusErr) {
		return protocol.NewError(protocol.CodeHTTPError, "downstream request failed").
			WithDetail("status", statusErr.Status)
	}
	return protocol.NewError(protocol.CodeHTTPError, "downstream request failed")
}

func (c *conn) sendEvent(eventType string, payload any) {
	data, err := protocol.EncodeFrame(eventType, payload)
	if err != nil {
		logger.ErrorF("[%s] Fail to encode %s frame, details: %v", c.client.ID, eventType, err)
		return
	}
	if err := c.client.Send(data); err != nil {
		logger.DebugF("[%s] Fail to send %s frame, details: %v", c.client.ID, eventType, err)
	}
}

func (c *conn) sendError(e *protocol.Error) {
	c.sendEvent(protocol.EventError, e)
}
