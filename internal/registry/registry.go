// Package registry 维护聊天与连接之间的双向成员关系索引
package registry

import (
	"sync"

	"github.com/faasify-official/websocket-server/internal/connection"
	"github.com/faasify-official/websocket-server/internal/logger"
)

// ChatRegistry tracks which clients belong to which chats. Both directions
// are indexed so teardown is proportional to the chats a client joined, not
// to the total number of chats.
//
// Every mutating operation holds the mutex for its whole duration; broadcast
// snapshots the member set under the read lock and delivers outside it.
type ChatRegistry struct {
	mu       sync.RWMutex
	chats    map[string]map[*connection.Client]struct{}
	byClient map[*connection.Client]map[string]struct{}
}

func NewChatRegistry() *ChatRegistry {
	return &ChatRegistry{
		chats:    make(map[string]map[*connection.Client]struct{}),
		byClient: make(map[*connection.Client]map[string]struct{}),
	}
}

// Join 将连接加入聊天，重复加入是无操作
func (r *ChatRegistry) Join(chatID string, client *connection.Client) {
	if chatID == "" || client == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.chats[chatID]
	if !ok {
		members = make(map[*connection.Client]struct{})
		r.chats[chatID] = members
	}
	if _, joined := members[client]; joined {
		return
	}
	members[client] = struct{}{}

	chats, ok := r.byClient[client]
	if !ok {
		chats = make(map[string]struct{})
		r.byClient[client] = chats
	}
	chats[chatID] = struct{}{}
}

// Leave 将连接移出聊天，未加入时是无操作；空聊天会被删除以释放内存
func (r *ChatRegistry) Leave(chatID string, client *connection.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(chatID, client)
}

func (r *ChatRegistry) leaveLocked(chatID string, client *connection.Client) {
	members, ok := r.chats[chatID]
	if !ok {
		return
	}
	delete(members, client)
	if len(members) == 0 {
		delete(r.chats, chatID)
	}

	if chats, ok := r.byClient[client]; ok {
		delete(chats, chatID)
		if len(chats) == 0 {
			delete(r.byClient, client)
		}
	}
}

// LeaveAll removes the client from every chat it joined and returns the
// chat ids that were left. This is the only entry point used by teardown.
func (r *ChatRegistry) LeaveAll(client *connection.Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats, ok := r.byClient[client]
	if !ok {
		return nil
	}
	left := make([]string, 0, len(chats))
	for chatID := range chats {
		left = append(left, chatID)
		r.leaveLocked(chatID, client)
	}
	return left
}

// Broadcast delivers data to every current member of the chat except
// exclude. Delivery failures are logged and skipped so one unreachable
// peer never blocks the rest of the chat.
func (r *ChatRegistry) Broadcast(chatID string, data []byte, exclude *connection.Client) int {
	members := r.Members(chatID)

	delivered := 0
	for _, member := range members {
		if member == exclude {
			continue
		}
		if err := member.Send(data); err != nil {
			logger.WarnF("[%s] Fail to deliver broadcast for chat %s, details: %v", member.ID, chatID, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Members 返回聊天当前成员的快照
func (r *ChatRegistry) Members(chatID string) []*connection.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*connection.Client, 0, len(r.chats[chatID]))
	for member := range r.chats[chatID] {
		members = append(members, member)
	}
	return members
}

// Size 返回聊天当前成员数量
func (r *ChatRegistry) Size(chatID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats[chatID])
}

// Chats 返回连接当前加入的聊天快照
func (r *ChatRegistry) Chats(client *connection.Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chats := make([]string, 0, len(r.byClient[client]))
	for chatID := range r.byClient[client] {
		chats = append(chats, chatID)
	}
	return chats
}

// ChatCount 返回当前存在成员的聊天数量
func (r *ChatRegistry) ChatCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chats)
}
