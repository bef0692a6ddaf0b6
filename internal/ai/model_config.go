package ai

import "time"

// Provider names a ModelConfig may carry.
const (
	ProviderAzure      = "azure"
	ProviderOllama     = "ollama"
	ProviderOpenRouter = "openrouter"
)

// ModelConfig is one entry in the capability set of active upstream models.
// Name is what clients send; Deployment is what the upstream expects
// (an Azure deployment name, or the model string for ollama/openrouter).
type ModelConfig struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"type:varchar(100);uniqueIndex;not null"`
	Provider    string `gorm:"type:varchar(32);not null"`
	Deployment  string `gorm:"type:varchar(255);not null"`
	Description string `gorm:"type:text"`
	Active      bool   `gorm:"not null;default:true;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ModelConfig) TableName() string { return "model_configs" }
