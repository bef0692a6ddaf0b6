package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const azureAPIVersion = "2024-06-01"

// AzureProvider calls an Azure OpenAI chat-completions deployment.
type AzureProvider struct {
	Endpoint   string // resource endpoint, e.g. https://myres.openai.azure.com
	APIKey     string
	Deployment string
	Client     *http.Client
}

func NewAzureProvider(endpoint, apiKey, deployment string) *AzureProvider {
	return &AzureProvider{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		Deployment: deployment,
		Client:     &http.Client{Timeout: 90 * time.Second},
	}
}

type azureChatReq struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type azureChatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *AzureProvider) Chat(ctx context.Context, messages []Message, temperature float64) (string, error) {
	if p.Client == nil {
		return "", errors.New("azure: http client is nil")
	}
	if strings.TrimSpace(p.Endpoint) == "" || strings.TrimSpace(p.APIKey) == "" {
		return "", errors.New("azure: endpoint and api key are required")
	}

	b, err := json.Marshal(azureChatReq{Messages: messages, Temperature: temperature})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(p.Endpoint, "/"), p.Deployment, azureAPIVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", p.APIKey)

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return "", fmt.Errorf("azure: %s", msg)
	}

	var decoded azureChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", err
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", errors.New(decoded.Error.Message)
	}
	// A well-formed response without text is not an error.
	if len(decoded.Choices) == 0 {
		return "", nil
	}
	return decoded.Choices[0].Message.Content, nil
}
