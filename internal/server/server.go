// Package server 实现了转发服务的 HTTP/WebSocket 入口与会话生命周期
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/faasify-official/websocket-server/internal/api"
	"github.com/faasify-official/websocket-server/internal/backoff"
	"github.com/faasify-official/websocket-server/internal/config"
	"github.com/faasify-official/websocket-server/internal/logger"
	"github.com/faasify-official/websocket-server/internal/protocol"
	"github.com/faasify-official/websocket-server/internal/registry"
	"github.com/faasify-official/websocket-server/internal/session"
	"github.com/faasify-official/websocket-server/internal/utils"
)

type Options struct {
	Addr          string
	MaxFrameBytes int
	TypingTimeout time.Duration
	ReadTimeout   time.Duration
	ShutdownGrace time.Duration
	API           *api.Client
}

type Server struct {
	opts       Options
	registry   *registry.ChatRegistry
	directory  *session.Directory
	upgrader   websocket.Upgrader
	httpServer *http.Server
	closing    atomic.Bool
}

func New(opts Options) *Server {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = 4096
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = 3 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 90 * time.Second
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = 5 * time.Second
	}

	s := &Server{
		opts:      opts,
		registry:  registry.NewChatRegistry(),
		directory: session.NewDirectory(),
		upgrader: websocket.Upgrader{
			// 跨域策略由前置网关负责
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// FromConfig 根据配置文件组装下游客户端与服务实例
func FromConfig(cfg config.Config) *Server {
	exec := backoff.NewClient(backoff.Config{
		MaxAttempts:    cfg.Backoff.MaxAttempts,
		BaseDelay:      utils.ParseStringTime(cfg.Backoff.BaseDelay),
		MaxDelay:       utils.ParseStringTime(cfg.Backoff.MaxDelay),
		AttemptTimeout: utils.ParseStringTime(cfg.Backoff.AttemptTimeout),
	})
	apiClient := api.NewClient(cfg.Auth.BaseURL, cfg.Storage.BaseURL, exec, utils.ParseStringTime(cfg.Auth.ProfileCacheTTL))

	return New(Options{
		Addr:          ":" + strconv.Itoa(cfg.AppPort),
		MaxFrameBytes: cfg.Relay.MaxFrameBytes,
		TypingTimeout: utils.ParseStringTime(cfg.Relay.TypingTimeout),
		ReadTimeout:   utils.ParseStringTime(cfg.Relay.ReadTimeout),
		ShutdownGrace: utils.ParseStringTime(cfg.Relay.ShutdownGrace),
		API:           apiClient,
	})
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) Start() error {
	logger.InfoF("WebSocket server listen on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error occured while serving http, details: %w", err)
	}
	return nil
}

// Shutdown 向所有在线连接广播下线通知并在宽限期内关闭监听
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	sessions := s.directory.Sessions()
	logger.InfoF("Shutting down, notifying %d live connections", len(sessions))

	notice, err := protocol.EncodeFrame(protocol.EventShutdown, protocol.ShutdownOut{Message: "server is shutting down"})
	if err == nil {
		for _, sess := range sessions {
			_ = sess.Client.Send(notice)
		}
	}

	// 给出站队列一点时间送达通知，再统一关闭
	time.Sleep(100 * time.Millisecond)
	for _, sess := range sessions {
		sess.Client.Close(protocol.CloseGoingAway, "server shutdown")
	}

	graceCtx, cancel := context.WithTimeout(ctx, s.opts.ShutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(graceCtx); err != nil {
		return fmt.Errorf("error occured while shutting down http server, details: %w", err)
	}
	return nil
}

// ShutdownCallback 适配清理调度器
type ShutdownCallback struct {
	server *Server
}

func NewShutdownCallback(server *Server) *ShutdownCallback {
	return &ShutdownCallback{server: server}
}

func (sc *ShutdownCallback) Invoke(ctx context.Context) error {
	return sc.server.Shutdown(ctx)
}
