package protocol

// Message 是存储服务返回的规范消息记录
type Message struct {
	ID         string `json:"id"`
	ChatID     string `json:"chatId"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
}

// 入站事件载荷

type MessageIn struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

type ReadIn struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type TypingIn struct {
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// 出站事件载荷

type ConnectedOut struct {
	UserID  string   `json:"userId"`
	ChatIDs []string `json:"chatIds"`
}

type MessageOut struct {
	ChatID  string  `json:"chatId"`
	Message Message `json:"message"`
}

type ReadOut struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	ReadAt    string `json:"readAt"`
}

type TypingOut struct {
	ChatID   string `json:"chatId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

type PresenceOut struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type PongOut struct {
	Timestamp int64 `json:"timestamp"`
}

type ShutdownOut struct {
	Message string `json:"message"`
}
