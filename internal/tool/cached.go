package tool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/neurokid/insight-agents/internal/cache"
)

// CacheKey derives the cache key for a call. encoding/json sorts map keys, so
// the key does not depend on argument order.
func CacheKey(name string, input map[string]interface{}) string {
	raw, err := json.Marshal(input)
	if err != nil {
		raw = []byte("{}")
	}
	sum := sha256.Sum256(raw)
	return "tool:" + name + ":" + hex.EncodeToString(sum[:])[:16]
}

// WithCache returns a copy of t whose successful results are cached for ttl.
func WithCache(t *Tool, c cache.Cache, ttl time.Duration) *Tool {
	inner := t.Handler
	name := t.Schema.Name
	return &Tool{
		Schema: t.Schema,
		Handler: func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			key := CacheKey(name, input)
			if raw, err := c.Get(ctx, key); err == nil {
				var data interface{}
				if json.Unmarshal(raw, &data) == nil {
					return &Annotated{Data: data, Metadata: map[string]interface{}{"cached": true}}, nil
				}
			}

			data, err := inner(ctx, input)
			if err != nil {
				return nil, err
			}
			payload := data
			if a, ok := data.(*Annotated); ok {
				payload = a.Data
			}
			// A failed cache write never fails the tool.
			if raw, err := json.Marshal(payload); err == nil {
				_ = c.Set(ctx, key, raw, ttl)
			}
			return data, nil
		},
	}
}
