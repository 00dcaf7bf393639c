// Package session 维护已认证连接的会话目录与输入状态定时器
package session

import (
	"time"

	"github.com/faasify-official/websocket-server/internal/api"
	"github.com/faasify-official/websocket-server/internal/connection"
)

// Session binds one live connection to one authenticated identity. The
// typing timer handles are owned exclusively by the session and reachable
// only through the Directory, which is the single place they get cancelled.
type Session struct {
	User      api.Profile
	Token     string
	Client    *connection.Client
	CreatedAt time.Time

	chats  map[string]struct{}
	typing map[string]*time.Timer
}

func New(user api.Profile, token string, client *connection.Client, chatIDs []string) *Session {
	chats := make(map[string]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		chats[id] = struct{}{}
	}
	return &Session{
		User:      user,
		Token:     token,
		Client:    client,
		CreatedAt: time.Now(),
		chats:     chats,
		typing:    make(map[string]*time.Timer),
	}
}

// InChat 判断会话是否属于指定聊天
func (s *Session) InChat(chatID string) bool {
	_, ok := s.chats[chatID]
	return ok
}

// ChatIDs 返回会话所属聊天的快照
func (s *Session) ChatIDs() []string {
	ids := make([]string, 0, len(s.chats))
	for id := range s.chats {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) cancelTimers() int {
	cancelled := 0
	for chatID, timer := range s.typing {
		timer.Stop()
		delete(s.typing, chatID)
		cancelled++
	}
	return cancelled
}
