package main

import (
	"github.com/faasify-official/websocket-server/internal/config"
	"github.com/faasify-official/websocket-server/internal/event"
	"github.com/faasify-official/websocket-server/internal/logger"
	"github.com/faasify-official/websocket-server/internal/server"
)

func main() {
	cfg, err := config.ReadConfig()
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		return
	}
	loggerCallback := logger.Init()
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	cleaner.Init(loggerCallback)

	srv := server.FromConfig(cfg)
	cleaner.Add(server.NewShutdownCallback(srv))

	if err := srv.Start(); err != nil {
		logger.FatalF("Error occured while running server, details: %v", err)
	}
}
