// Package api 封装了身份服务与存储服务的下游调用边界
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/faasify-official/websocket-server/internal/backoff"
	"github.com/faasify-official/websocket-server/internal/logger"
	"github.com/faasify-official/websocket-server/internal/protocol"
)

const profileCacheSize = 1024

var (
	ErrMalformedProfile = errors.New("profile response is missing required fields")
)

// Profile 是身份服务返回的用户档案
type Profile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Chat 是存储服务返回的聊天记录，转发层只依赖其 id
type Chat struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Client calls the identity and storage collaborators. All requests go
// through the retrying executor and forward the caller's bearer credential.
type Client struct {
	authBase    string
	storageBase string
	exec        *backoff.Client
	profiles    *expirable.LRU[string, Profile]
}

func NewClient(authBase string, storageBase string, exec *backoff.Client, profileTTL time.Duration) *Client {
	return &Client{
		authBase:    strings.TrimRight(authBase, "/"),
		storageBase: strings.TrimRight(storageBase, "/"),
		exec:        exec,
		profiles:    expirable.NewLRU[string, Profile](profileCacheSize, nil, profileTTL),
	}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// FetchProfile verifies the credential against the identity service.
// Recently verified credentials are served from the cache so reconnect
// storms do not hammer the collaborator.
func (c *Client) FetchProfile(ctx context.Context, token string) (Profile, error) {
	if profile, ok := c.profiles.Get(token); ok {
		logger.DebugF("Profile cache hit for user %s", profile.ID)
		return profile, nil
	}

	resp, err := c.exec.Do(ctx, http.MethodGet, c.authBase+"/api/profile", bearer(token), nil)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch profile: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(resp.Body, &profile); err != nil {
		return Profile{}, fmt.Errorf("fetch profile: %w", errors.Join(ErrMalformedProfile, err))
	}
	if profile.ID == "" || profile.Name == "" {
		return Profile{}, ErrMalformedProfile
	}

	c.profiles.Add(token, profile)
	return profile, nil
}

// ListChats 拉取该身份当前所属的全部聊天
func (c *Client) ListChats(ctx context.Context, token string) ([]Chat, error) {
	resp, err := c.exec.Do(ctx, http.MethodGet, c.storageBase+"/api/chats", bearer(token), nil)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}

	var chats []Chat
	if err := json.Unmarshal(resp.Body, &chats); err != nil {
		return nil, fmt.Errorf("list chats: error occured while decoding response, details: %v", err)
	}

	// 没有 id 的记录无法作为广播主题，直接丢弃
	valid := chats[:0]
	for _, chat := range chats {
		if chat.ID != "" {
			valid = append(valid, chat)
		}
	}
	return valid, nil
}

// FetchChat 拉取单个聊天
func (c *Client) FetchChat(ctx context.Context, token string, chatID string) (Chat, error) {
	resp, err := c.exec.Do(ctx, http.MethodGet, c.storageBase+"/api/chats/"+url.PathEscape(chatID), bearer(token), nil)
	if err != nil {
		return Chat{}, fmt.Errorf("fetch chat %s: %w", chatID, err)
	}

	var chat Chat
	if err := json.Unmarshal(resp.Body, &chat); err != nil {
		return Chat{}, fmt.Errorf("fetch chat %s: error occured while decoding response, details: %v", chatID, err)
	}
	if chat.ID == "" {
		return Chat{}, fmt.Errorf("fetch chat %s: response is missing the chat id", chatID)
	}
	return chat, nil
}

// CreateMessage persists a message and returns the canonical record with
// the server-assigned id and timestamp.
func (c *Client) CreateMessage(ctx context.Context, token string, chatID string, content string) (protocol.Message, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return protocol.Message{}, fmt.Errorf("create message: %w", err)
	}

	resp, err := c.exec.Do(ctx, http.MethodPost, c.storageBase+"/api/chats/"+url.PathEscape(chatID)+"/messages", bearer(token), body)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("create message: %w", err)
	}

	var message protocol.Message
	if err := json.Unmarshal(resp.Body, &message); err != nil {
		return protocol.Message{}, fmt.Errorf("create message: error occured while decoding response, details: %v", err)
	}
	return message, nil
}

// MarkRead 记录已读状态
func (c *Client) MarkRead(ctx context.Context, token string, chatID string, messageID string) error {
	endpoint := c.storageBase + "/api/chats/" + url.PathEscape(chatID) + "/messages/" + url.PathEscape(messageID) + "/read"
	if _, err := c.exec.Do(ctx, http.MethodPost, endpoint, bearer(token), nil); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}
