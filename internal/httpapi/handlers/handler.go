package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/gopherchat/gopherchat/internal/ai"
	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/config"
	"github.com/gopherchat/gopherchat/internal/email"
	"github.com/gopherchat/gopherchat/internal/store/rabbitmq"
	"github.com/gopherchat/gopherchat/internal/store/redisstore"
)

type Handler struct {
	DB          *gorm.DB
	Cfg         config.Config
	Redis       *redisstore.Store
	Rabbit      *rabbitmq.Publisher
	SMTPSetting email.SMTPConfig
	ChatSvc     *chat.Service
	Gateway     *ai.Gateway
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, rabbit *rabbitmq.Publisher) *Handler {
	gateway := ai.NewGateway(db, NewProviderRegistry(cfg))
	chatSvc := chat.NewService(chat.NewRepo(db), gateway)
	return &Handler{
		DB:     db,
		Cfg:    cfg,
		Redis:  rds,
		Rabbit: rabbit,
		SMTPSetting: email.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
			From: cfg.SMTPFrom,
		},
		ChatSvc: chatSvc,
		Gateway: gateway,
	}
}

// NewProviderRegistry wires every supported upstream. The deployment a
// factory receives comes from the resolved model configuration.
func NewProviderRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register(ai.ProviderAzure, func(ctx context.Context, deployment string) (ai.Provider, error) {
		return ai.NewAzureProvider(cfg.AzureOpenAIEndpoint, cfg.AzureOpenAIAPIKey, deployment), nil
	})
	reg.Register(ai.ProviderOllama, func(ctx context.Context, deployment string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, deployment), nil
	})
	reg.Register(ai.ProviderOpenRouter, func(ctx context.Context, deployment string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, deployment,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName), nil
	})
	return reg
}
