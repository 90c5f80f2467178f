package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sethvargo/go-retry"

	"github.com/macroferro/macroferro-backend/pkg/config"
	"github.com/macroferro/macroferro-backend/pkg/errors"
)

// Turn is one message in a conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Client is the language-model surface the bot depends on.
type Client interface {
	// Complete runs a chat completion. With jsonMode the model is constrained
	// to emit a single JSON object.
	Complete(ctx context.Context, system string, turns []Turn, jsonMode bool) (string, error)
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

type client struct {
	api            chatCompleter
	chatModel      string
	embeddingModel string
	timeout        time.Duration
	breaker        *breaker
}

// NewClient builds the production model client from config.
func NewClient(cfg config.OpenAIConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("model api key required")
	}
	return &client{
		api:            openai.NewClient(cfg.APIKey),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
		breaker:        newBreaker(cfg.BreakerTrip, cfg.BreakerReset),
	}, nil
}

func (c *client) Complete(ctx context.Context, system string, turns []Turn, jsonMode bool) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, turn := range turns {
		role := openai.ChatMessageRoleUser
		if turn.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: turn.Content,
		})
	}

	req := openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: messages,
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	var content string
	err := c.call(ctx, func(callCtx context.Context) error {
		resp, err := c.api.CreateChatCompletion(callCtx, req)
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("completion returned no choices")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

func (c *client) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: []string{text},
	}

	var vector []float32
	err := c.call(ctx, func(callCtx context.Context) error {
		resp, err := c.api.CreateEmbeddings(callCtx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("embedding response was empty")
		}
		vector = resp.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vector, nil
}

// call applies the breaker, per-call timeout and a single jittered retry
// around one upstream request.
func (c *client) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.breaker.Allow() {
		return errors.New(errors.CodeDependency, "model temporarily unavailable")
	}

	backoff := retry.WithJitter(200*time.Millisecond, retry.NewConstant(500*time.Millisecond))
	backoff = retry.WithMaxRetries(1, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		if err := fn(callCtx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		c.breaker.Failure()
		return errors.Wrap(errors.CodeDependency, err, "model request failed")
	}
	c.breaker.Success()
	return nil
}

// breaker trips after a run of consecutive failures and recovers after a
// cool-off window.
type breaker struct {
	mu        sync.Mutex
	failures  int
	trip      int
	reset     time.Duration
	openUntil time.Time
	now       func() time.Time
}

func newBreaker(trip int, reset time.Duration) *breaker {
	if trip <= 0 {
		trip = 5
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &breaker{trip: trip, reset: reset, now: time.Now}
}

func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return true
	}
	if b.now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return true
	}
	return false
}

func (b *breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.trip {
		b.openUntil = b.now().Add(b.reset)
	}
}

func (b *breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}
