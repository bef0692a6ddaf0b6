package ai

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Gateway resolves a model name against the active configurations and runs
// one chat completion against the matching provider. It performs no retries.
type Gateway struct {
	db       *gorm.DB
	registry *Registry
}

func NewGateway(db *gorm.DB, registry *Registry) *Gateway {
	return &Gateway{db: db, registry: registry}
}

// Resolve picks the configuration for modelName, or the first active one
// when modelName is empty.
func (g *Gateway) Resolve(ctx context.Context, modelName string) (*ModelConfig, error) {
	var cfg ModelConfig
	if modelName != "" {
		err := g.db.WithContext(ctx).
			Where("name = ? AND active = ?", modelName, true).
			First(&cfg).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrUnknownModel
			}
			return nil, err
		}
		return &cfg, nil
	}

	err := g.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id ASC").
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoModelAvailable
		}
		return nil, err
	}
	return &cfg, nil
}

// Complete sends the message sequence with the sampling temperature to the
// resolved upstream and returns the generated text. Transport failures come
// back wrapped in ErrUpstreamUnavailable.
func (g *Gateway) Complete(ctx context.Context, messages []Message, temperature float64, modelName string) (string, error) {
	cfg, err := g.Resolve(ctx, modelName)
	if err != nil {
		return "", err
	}

	provider, err := g.registry.Get(ctx, cfg.Provider, cfg.Deployment)
	if err != nil {
		return "", err
	}

	text, err := provider.Chat(ctx, messages, temperature)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return text, nil
}

// ActiveModelNames lists the names clients may pass as the model field.
func (g *Gateway) ActiveModelNames(ctx context.Context) ([]string, error) {
	var names []string
	err := g.db.WithContext(ctx).
		Model(&ModelConfig{}).
		Where("active = ?", true).
		Order("id ASC").
		Pluck("name", &names).Error
	if err != nil {
		return nil, err
	}
	return names, nil
}
