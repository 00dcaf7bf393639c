package session

import (
	"sync"
	"time"

	"github.com/faasify-official/websocket-server/internal/logger"
)

// Directory 维护身份与连接到会话的双向索引
//
// Remove is the single point that prevents timer leakage: every path that
// destroys a session goes through it, and it cancels every timer the
// session owns before dropping the indices.
type Directory struct {
	mu     sync.RWMutex
	byUser map[string]*Session
	byConn map[string]*Session
}

func NewDirectory() *Directory {
	return &Directory{
		byUser: make(map[string]*Session),
		byConn: make(map[string]*Session),
	}
}

// Add 注册会话。同一身份的第二条连接会共存，ByUser 返回最近注册的那个
func (d *Directory) Add(s *Session) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byUser[s.User.ID] = s
	d.byConn[s.Client.ID] = s
	logger.InfoF("[%s] User %s connected", s.Client.ID, s.User.ID)
}

// Remove 注销连接对应的会话，取消其全部定时器并移除两个索引
func (d *Directory) Remove(connID string) *Session {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byConn[connID]
	if !ok {
		return nil
	}

	if cancelled := s.cancelTimers(); cancelled > 0 {
		logger.DebugF("[%s] Cancelled %d pending typing timers", connID, cancelled)
	}

	delete(d.byConn, connID)
	// 同一身份可能已经另开新连接，只在指向本会话时移除
	if current, ok := d.byUser[s.User.ID]; ok && current == s {
		delete(d.byUser, s.User.ID)
	}
	logger.InfoF("[%s] User %s disconnected", connID, s.User.ID)
	return s
}

func (d *Directory) ByConnection(connID string) *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byConn[connID]
}

func (d *Directory) ByUser(userID string) *Session {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.byUser[userID]
}

// Sessions 返回全部在线会话的快照
func (d *Directory) Sessions() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	sessions := make([]*Session, 0, len(d.byConn))
	for _, s := range d.byConn {
		sessions = append(sessions, s)
	}
	return sessions
}

// IsOnline 精确反映目录当前状态，没有最终一致性窗口
func (d *Directory) IsOnline(userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byUser[userID]
	return ok
}

// SetTypingTimer installs an auto-expiring typing indicator for the
// (connection, chat) pair. A still-pending timer for the same pair is
// cancelled first, debouncing repeated typing signals into one trailing
// expiry. The callback fires on its own goroutine and must re-validate
// session and membership state before acting.
func (d *Directory) SetTypingTimer(connID string, chatID string, timeout time.Duration, expired func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byConn[connID]
	if !ok {
		return
	}

	if previous, ok := s.typing[chatID]; ok {
		previous.Stop()
	}

	s.typing[chatID] = time.AfterFunc(timeout, func() {
		d.clearFiredTimer(connID, chatID)
		expired()
	})
}

// ClearTypingTimer 取消尚未触发的定时器，没有则是无操作
func (d *Directory) ClearTypingTimer(connID string, chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.byConn[connID]
	if !ok {
		return
	}
	if timer, ok := s.typing[chatID]; ok {
		timer.Stop()
		delete(s.typing, chatID)
	}
}

// 定时器自然触发后清除自己的句柄，避免残留已失效的引用
func (d *Directory) clearFiredTimer(connID string, chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.byConn[connID]; ok {
		delete(s.typing, chatID)
	}
}
