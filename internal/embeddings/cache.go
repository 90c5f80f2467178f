package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/macroferro/macroferro-backend/internal/llm"
	"github.com/macroferro/macroferro-backend/pkg/logger"
	"github.com/macroferro/macroferro-backend/pkg/redis"
)

type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type kvStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	EmbeddingKey(digest string) string
}

// Cache memoizes query embeddings so repeated searches skip the model call.
// Cache misses and write failures degrade to the upstream, never to an error.
type Cache struct {
	llm  embedder
	kv   kvStore
	ttl  time.Duration
	logg *logger.Logger
}

func NewCache(llmClient llm.Client, kv *redis.Client, ttl time.Duration, logg *logger.Logger) (*Cache, error) {
	if llmClient == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if kv == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{llm: llmClient, kv: kv, ttl: ttl, logg: logg}, nil
}

// Embed returns the vector for text, from cache when possible.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	normalized := normalize(text)
	key := c.kv.EmbeddingKey(digest(normalized))

	if raw, err := c.kv.Get(ctx, key); err == nil {
		var vector []float32
		if err := json.Unmarshal([]byte(raw), &vector); err == nil && len(vector) > 0 {
			return vector, nil
		}
	} else if err != goredis.Nil && c.logg != nil {
		c.logg.Warn(ctx, "embedding cache read failed: "+err.Error())
	}

	vector, err := c.llm.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(vector); err == nil {
		if err := c.kv.Set(ctx, key, string(encoded), c.ttl); err != nil && c.logg != nil {
			c.logg.Warn(ctx, "embedding cache write failed: "+err.Error())
		}
	}
	return vector, nil
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
