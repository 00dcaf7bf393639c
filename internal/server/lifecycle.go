package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faasify-official/websocket-server/internal/connection"
	"github.com/faasify-official/websocket-server/internal/logger"
	"github.com/faasify-official/websocket-server/internal/protocol"
	"github.com/faasify-official/websocket-server/internal/session"
)

// 连接生命周期状态机
type connState int32

const (
	stateConnecting connState = iota
	stateAuthenticating
	stateJoining
	stateActive
	stateClosing
	stateClosed
	stateRejected
)

// conn drives one connection through the lifecycle state machine. All
// inbound events for a connection are processed serially by its read
// loop, so per-connection ordering is the order frames arrived in.
type conn struct {
	server *Server
	client *connection.Client
	sess   *session.Session

	state    atomic.Int32
	teardown sync.Once
}

func (c *conn) setState(next connState) {
	c.state.Store(int32(next))
}

func (c *conn) currentState() connState {
	return connState(c.state.Load())
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnF("Fail to upgrade connection from %s, details: %v", r.RemoteAddr, err)
		return
	}

	client := connection.NewClient(ws)
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})
	go client.WritePump()

	c := &conn{server: s, client: client}
	c.run(r)
}

func (c *conn) run(r *http.Request) {
	logger.DebugF("[%s] Accepted new connection from %s", c.client.ID, r.RemoteAddr)

	c.setState(stateAuthenticating)
	token := credentialFromRequest(r)
	if token == "" {
		c.reject("missing credential")
		return
	}

	profile, err := c.server.opts.API.FetchProfile(context.Background(), token)
	if err != nil {
		logger.WarnF("[%s] Authentication failed, details: %v", c.client.ID, err)
		c.reject("invalid credential")
		return
	}

	c.setState(stateJoining)
	chatIDs := c.fetchChatIDs(token, profile.ID)

	c.sess = session.New(profile, token, c.client, chatIDs)
	c.server.directory.Add(c.sess)
	for _, chatID := range chatIDs {
		c.server.registry.Join(chatID, c.client)
	}

	c.sendEvent(protocol.EventConnected, protocol.ConnectedOut{UserID: profile.ID, ChatIDs: chatIDs})
	c.backfillPresence(chatIDs)
	c.announcePresence(chatIDs, true)

	c.setState(stateActive)
	c.readLoop()
	c.close()
}

// fetchChatIDs soft-fails to an empty set: the user can still receive later
// operations, they just start in no chats.
func (c *conn) fetchChatIDs(token string, userID string) []string {
	chats, err := c.server.opts.API.ListChats(context.Background(), token)
	if err != nil {
		logger.WarnF("[%s] Fail to fetch chat list for user %s, joining no chats, details: %v", c.client.ID, userID, err)
		return []string{}
	}

	chatIDs := make([]string, 0, len(chats))
	for _, chat := range chats {
		chatIDs = append(chatIDs, chat.ID)
	}
	return chatIDs
}

// reject 发送认证失败通知并以保留的关闭码断开
func (c *conn) reject(reason string) {
	c.setState(stateRejected)
	c.sendError(protocol.NewError(protocol.CodeAuthFailed, "authentication failed"))

	// 给出站队列送达错误帧的机会
	time.Sleep(50 * time.Millisecond)
	c.client.Close(protocol.CloseAuthFailed, reason)
}

func (c *conn) readLoop() {
	for {
		data, err := c.client.Read(c.server.opts.ReadTimeout)
		if err != nil {
			if connection.IsClosedError(err) {
				logger.InfoF("[%s] Client close connection", c.client.ID)
			} else {
				logger.DebugF("[%s] Error occured while reading frame, details: %v", c.client.ID, err)
			}
			return
		}
		c.handleFrame(data)
	}
}

// close runs the teardown sequence exactly once: capture the session's
// chats, remove it from the directory (cancelling timers), leave every
// chat, then announce offline to the captured chats.
func (c *conn) close() {
	c.teardown.Do(func() {
		c.setState(stateClosing)

		sess := c.server.directory.Remove(c.client.ID)
		chats := c.server.registry.LeaveAll(c.client)

		if sess != nil && !c.server.closing.Load() {
			c.announcePresence(chats, false)
		}

		c.client.Close(protocol.CloseNormal, "")
		c.setState(stateClosed)
	})
}

// backfillPresence tells the new connection which chat peers are already
// online, one notice per distinct identity.
func (c *conn) backfillPresence(chatIDs []string) {
	seen := make(map[string]struct{})
	for _, chatID := range chatIDs {
		for _, peer := range c.server.registry.Members(chatID) {
			if peer == c.client {
				continue
			}
			peerSess := c.server.directory.ByConnection(peer.ID)
			if peerSess == nil || peerSess.User.ID == c.sess.User.ID {
				continue
			}
			if _, ok := seen[peerSess.User.ID]; ok {
				continue
			}
			seen[peerSess.User.ID] = struct{}{}
			c.sendEvent(protocol.EventUserOnline, protocol.PresenceOut{UserID: peerSess.User.ID, Online: true})
		}
	}
}

// announcePresence notifies every member of every given chat exactly once,
// even when a peer shares several chats with this identity.
func (c *conn) announcePresence(chatIDs []string, online bool) {
	data, err := protocol.EncodeFrame(protocol.EventUserOnline, protocol.PresenceOut{UserID: c.sess.User.ID, Online: online})
	if err != nil {
		logger.ErrorF("[%s] Fail to encode presence frame, details: %v", c.client.ID, err)
		return
	}

	notified := make(map[*connection.Client]struct{})
	for _, chatID := range chatIDs {
		for _, peer := range c.server.registry.Members(chatID) {
			if peer == c.client {
				continue
			}
			if _, ok := notified[peer]; ok {
				continue
			}
			notified[peer] = struct{}{}
			if err := peer.Send(data); err != nil {
				logger.WarnF("[%s] Fail to deliver presence notice, details: %v", peer.ID, err)
			}
		}
	}
}

// credentialFromRequest 优先读取 token 查询参数，缺失时回退到 Authorization 头
func credentialFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if value, found := strings.CutPrefix(header, "Bearer "); found {
		return strings.TrimSpace(value)
	}
	return ""
}
