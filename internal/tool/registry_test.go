package tool

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/neurokid/insight-agents/internal/cache"
)

func userTool(calls *int32) *Tool {
	return &Tool{
		Schema: Schema{
			Name:        "get_user_activity",
			Description: "Activity for one user",
			Category:    "users",
			Parameters: []Parameter{
				{Name: "id", Type: TypeString, Required: true, Description: "user id"},
				{Name: "period", Type: TypeString, Enum: []string{"day", "week", "month"}, Default: "week"},
				{Name: "limit", Type: TypeInteger, Default: 10},
			},
		},
		Handler: func(_ context.Context, input map[string]interface{}) (interface{}, error) {
			if calls != nil {
				atomic.AddInt32(calls, 1)
			}
			return map[string]interface{}{"id": input["id"], "period": input["period"]}, nil
		},
	}
}

func simpleTool(name string) *Tool {
	return &Tool{
		Schema: Schema{Name: name, Description: name},
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"tool": name}, nil
		},
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	res := r.Execute(context.Background(), "nope", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "Tool not found: nope", res.Error)
	assert.Nil(t, res.Data)
}

func TestExecuteMissingRequired(t *testing.T) {
	var calls int32
	r := NewRegistry(nil, zap.NewNop())
	r.Register(userTool(&calls))

	res := r.Execute(context.Background(), "get_user_activity", map[string]interface{}{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "Missing required parameter: id")
	assert.Equal(t, int32(0), calls, "handler must not run on invalid input")
}

func TestExecuteAppliesDefaults(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Register(userTool(nil))

	res := r.Execute(context.Background(), "get_user_activity", map[string]interface{}{"id": "u1"})
	require.True(t, res.Success, res.Error)
	data := res.Data.(map[string]interface{})
	assert.Equal(t, "week", data["period"])
	assert.Empty(t, res.Error)
}

func TestExecuteConvertsErrorsAndPanics(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Register(&Tool{
		Schema: Schema{Name: "broken"},
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			return nil, errors.New("db unavailable")
		},
	})
	r.Register(&Tool{
		Schema: Schema{Name: "panicky"},
		Handler: func(context.Context, map[string]interface{}) (interface{}, error) {
			panic("nil map")
		},
	})

	res := r.Execute(context.Background(), "broken", nil)
	assert.False(t, res.Success)
	assert.Equal(t, "db unavailable", res.Error)
	assert.Nil(t, res.Data)

	res = r.Execute(context.Background(), "panicky", nil)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "panicked")
}

func TestValidateInput(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Register(userTool(nil))

	v := r.ValidateInput("get_user_activity", map[string]interface{}{
		"id": 42.0, "period": "year", "limit": 2.5,
	})
	assert.False(t, v.Valid)
	require.Len(t, v.Errors, 3)
	assert.Contains(t, v.Errors[0], "parameter id")
	assert.Contains(t, v.Errors[1], "must be one of [day, week, month]")
	assert.Contains(t, v.Errors[2], "expected integer")

	v = r.ValidateInput("get_user_activity", map[string]interface{}{"id": "u", "limit": 5})
	assert.True(t, v.Valid)
	assert.Empty(t, v.Errors)

	v = r.ValidateInput("missing", nil)
	assert.False(t, v.Valid)
}

func TestReRegisterOverwritesInPlace(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Register(simpleTool("a"))
	r.Register(simpleTool("b"))
	replacement := simpleTool("a")
	replacement.Schema.Description = "new"
	r.Register(replacement)

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Name)
	assert.Equal(t, "new", all[0].Description)
}

func TestRegisterForAgentDropsUnknownAndKeepsOrder(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	for _, n := range []string{"a", "b", "c"} {
		r.Register(simpleTool(n))
	}
	r.RegisterForAgent("GROWTH_STRATEGIST", []string{"c", "ghost", "a"})

	assert.Equal(t, []string{"a", "c"}, r.Names("GROWTH_STRATEGIST"))
	assert.Empty(t, r.ForAgent("UNKNOWN"))

	llm := r.ToLLMFormat("GROWTH_STRATEGIST")
	require.Len(t, llm, 2)
	assert.Equal(t, "function", llm[0].Type)
	assert.Equal(t, "a", llm[0].Function.Name)
}

func TestToLLMFormatSchema(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	r.Register(userTool(nil))
	r.RegisterForAgent("X", []string{"get_user_activity"})

	params := r.ToLLMFormat("X")[0].Function.Parameters.(map[string]interface{})
	assert.Equal(t, "object", params["type"])
	assert.Equal(t, []string{"id"}, params["required"])
	props := params["properties"].(map[string]interface{})
	period := props["period"].(map[string]interface{})
	assert.Equal(t, []string{"day", "week", "month"}, period["enum"])
}

func TestLookup(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	_, err := r.Lookup("x")
	assert.True(t, errors.Is(err, ErrToolNotFound))
}

func TestWithCacheServesRepeatCalls(t *testing.T) {
	var calls int32
	r := NewRegistry(nil, zap.NewNop())
	r.Register(WithCache(userTool(&calls), cache.NewMemoryCache(10, nil), time.Minute))

	first := r.Execute(context.Background(), "get_user_activity", map[string]interface{}{"id": "u1"})
	second := r.Execute(context.Background(), "get_user_activity", map[string]interface{}{"id": "u1"})
	third := r.Execute(context.Background(), "get_user_activity", map[string]interface{}{"id": "u2"})

	require.True(t, first.Success)
	require.True(t, second.Success)
	require.True(t, third.Success)
	assert.Equal(t, int32(2), calls)
	assert.Nil(t, first.Metadata)
	assert.Equal(t, true, second.Metadata["cached"])
	assert.Equal(t, first.Data, second.Data)
}

func TestValidationErrorsFollowDeclarationOrder(t *testing.T) {
	names := []string{"p0", "p1", "p2", "p3", "p4"}
	rapid.Check(t, func(rt *rapid.T) {
		params := make([]Parameter, len(names))
		for i, n := range names {
			params[i] = Parameter{Name: n, Type: TypeInteger, Required: true}
		}
		s := Schema{Name: "t", Parameters: params}

		input := map[string]interface{}{}
		for _, n := range names {
			switch rapid.IntRange(0, 2).Draw(rt, n) {
			case 0: // absent
			case 1:
				input[n] = "bad"
			case 2:
				input[n] = 3
			}
		}

		v := s.Validate(input)
		if v.Valid != (len(v.Errors) == 0) {
			rt.Fatalf("valid flag inconsistent: %+v", v)
		}
		last := -1
		for _, e := range v.Errors {
			idx := -1
			for i, n := range names {
				if strings.HasSuffix(e, " "+n) || strings.Contains(e, "parameter "+n+":") {
					idx = i
				}
			}
			if idx <= last {
				rt.Fatalf("errors out of declaration order: %v", v.Errors)
			}
			last = idx
		}
		again := s.Validate(input)
		if strings.Join(again.Errors, "|") != strings.Join(v.Errors, "|") {
			rt.Fatalf("validation not deterministic")
		}
	})
}

func TestCacheKeyIgnoresInsertionOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,6}`), 1, 6, rapid.ID[string]).Draw(rt, "keys")
		a := map[string]interface{}{}
		b := map[string]interface{}{}
		for i, k := range keys {
			a[k] = i
		}
		for i := len(keys) - 1; i >= 0; i-- {
			b[keys[i]] = i
		}
		if CacheKey("t", a) != CacheKey("t", b) {
			rt.Fatalf("keys differ for %v", keys)
		}
	})
}
