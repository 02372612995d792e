// Package genai wraps the Ark chat model behind an eino prompt chain and
// classifies provider failures into a small closed set of fault kinds.
package genai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/tollchat/tollchat/internal/config"
	"github.com/tollchat/tollchat/internal/history"
)

// Client generates chat completions from a system prompt, prior conversation
// turns, and the current user query.
type Client struct {
	chain     compose.Runnable[map[string]any, *schema.Message]
	modelName string
}

// New builds the prompt chain and the Ark chat model from config.
func New(ctx context.Context, cfg config.LLMConfig) (*Client, error) {
	if cfg.APIKey == "" || cfg.Model == "" {
		return nil, fmt.Errorf("generation backend requires an API key and model name")
	}

	var temperature *float32
	if cfg.Temperature != nil {
		v := float32(*cfg.Temperature)
		temperature = &v
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		Region:      cfg.Region,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat model: %w", err)
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compiling chat chain: %w", err)
	}

	return &Client{chain: runnable, modelName: cfg.Model}, nil
}

// ModelName returns the configured model identifier, used for ledger pricing.
func (c *Client) ModelName() string { return c.modelName }

// Complete runs the chain and returns the assistant's answer. Failures come
// back as a *ProviderError carrying the classified fault kind.
func (c *Client) Complete(ctx context.Context, system string, turns []history.Turn, query string) (string, error) {
	response, err := c.chain.Invoke(ctx, map[string]any{
		"system":  system,
		"history": historyMessages(turns),
		"query":   query,
	})
	if err != nil {
		return "", classify(err)
	}
	return response.Content, nil
}

func historyMessages(turns []history.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}
	messages := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case history.RoleUser:
			messages = append(messages, schema.UserMessage(t.Content))
		case history.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(t.Content, nil))
		}
	}
	return messages
}
