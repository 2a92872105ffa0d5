package main

import (
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/compdesk/survey-intake/internal/config"
	"github.com/compdesk/survey-intake/internal/debug"
	"github.com/compdesk/survey-intake/internal/web"
)

func main() {
	config.LoadEnv()
	cfg := config.Load()

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	debug.SetLogger(logger)

	fmt.Println("=== Survey Intake API ===")
	fmt.Printf("Server: http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Printf("Store: %s\n", cfg.Store.Driver)

	server, err := web.NewServer(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func newLogger(debugMode bool) (*zap.Logger, error) {
	if debugMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
