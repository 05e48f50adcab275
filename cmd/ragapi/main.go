// Command ragapi serves the HTTP surface (C10): auth, knowledge base and
// document management, chat completions, membership, and evaluation
// endpoints, all bound to the pooled-client Registry.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ragctl/ragctl/api"
	"github.com/ragctl/ragctl/common"
	"github.com/ragctl/ragctl/config"
	"github.com/ragctl/ragctl/platform"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry, err := platform.NewRegistry(ctx, cfg)
	if err != nil {
		common.ComponentLogger("ragapi").WithError(err).Error("failed to build registry")
		os.Exit(1)
	}
	defer registry.Close()

	h := &api.Handlers{
		Auth:        api.NewAuthHandlers(registry.Users, registry.JWT, cfg.Auth.TokenTTL),
		Knowledge:   api.NewKnowledgeHandlers(registry.Knowledge, registry.Memberships, registry.Documents, registry.Chunks, registry.Dense, registry.Lex, registry.Blobs, registry.Queue),
		Members:     api.NewMemberHandlers(registry.Memberships),
		Chat:        api.NewChatHandlers(registry.Sessions, registry.Messages, registry.Orchestrator),
		Evaluation:  api.NewEvaluationHandlers(registry.TestSets, registry.Experiments, registry.Queue),
		JWT:         registry.JWT,
		Users:       registry.Users,
		Memberships: registry.Memberships,
	}

	e := api.NewEchoServer(cfg.Server)
	api.SetupRoutes(e, h)

	log := common.ComponentLogger("ragapi")
	go func() {
		log.Infof("listening on port %d", cfg.Server.Port)
		if err := api.StartServer(e, cfg.Server); err != nil {
			log.WithError(err).Warn("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if err := api.GracefulShutdown(e, cfg.Server.ShutdownTimeout); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}
