package sentiment

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"companion-service/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestScore(t *testing.T) {
	t.Run("empty input is neutral", func(t *testing.T) {
		for _, in := range []string{"", "   ", "\n\t"} {
			res := Score(in)
			assert.Equal(t, models.EmotionNeutral, res.Label)
			assert.Equal(t, 0.3, res.Intensity)
			assert.Equal(t, 0.0, res.Confidence)
		}
	})

	t.Run("no keywords is neutral", func(t *testing.T) {
		res := Score("the bus leaves at noon")
		assert.Equal(t, models.NeutralSentiment(), res)
	})

	t.Run("counts distinct keywords", func(t *testing.T) {
		res := Score("I'm so TIRED and stressed today")
		assert.Equal(t, models.EmotionSupportive, res.Label)
		assert.InDelta(t, 0.9, res.Intensity, 1e-9)
		assert.InDelta(t, 0.6, res.Confidence, 1e-9)
	})

	t.Run("highest count wins", func(t *testing.T) {
		res := Score("haha that joke was silly, you are cute")
		assert.Equal(t, models.EmotionPlayful, res.Label)
	})

	t.Run("ties use priority order", func(t *testing.T) {
		res := Score("cute game")
		assert.Equal(t, models.EmotionFlirty, res.Label)

		res = Score("can I trust you with a kiss")
		assert.Equal(t, models.EmotionIntimate, res.Label)
	})

	t.Run("scores are capped", func(t *testing.T) {
		res := Score("sexy hot beautiful gorgeous cute kiss hug babe darling")
		assert.Equal(t, models.EmotionFlirty, res.Label)
		assert.Equal(t, 1.0, res.Intensity)
		assert.Equal(t, 1.0, res.Confidence)
	})
}

func TestScoreBoundsAndDeterminism(t *testing.T) {
	inputs := []string{
		"", "!!!", "yes!", "😀😀", "haha lol funny silly game play joke tease",
		"I hate this, so mad at you", "what do you mean? huh", string([]byte{0xff, 0xfe}),
	}
	for _, in := range inputs {
		first := Score(in)
		assert.Equal(t, first, Score(in))
		assert.GreaterOrEqual(t, first.Intensity, 0.0)
		assert.LessOrEqual(t, first.Intensity, 1.0)
		assert.GreaterOrEqual(t, first.Confidence, 0.0)
		assert.LessOrEqual(t, first.Confidence, 1.0)
		assert.True(t, first.Label.IsValid())
	}
}

type remoteFunc func(ctx context.Context, text string) (*models.SentimentResult, error)

func (f remoteFunc) Classify(ctx context.Context, text string) (*models.SentimentResult, error) {
	return f(ctx, text)
}

func TestGuarded(t *testing.T) {
	logger := zap.NewNop()
	ctx := context.Background()
	text := "I'm so tired and stressed today"
	rules := Score(text)

	t.Run("uses remote result", func(t *testing.T) {
		g := NewGuarded(remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			return &models.SentimentResult{Label: "Sad", Intensity: 0.7, Confidence: 0.9}, nil
		}), time.Second, logger)

		res := g.Analyze(ctx, text)
		assert.Equal(t, models.EmotionSad, res.Label)
		assert.Equal(t, 0.7, res.Intensity)
	})

	t.Run("clamps remote scores", func(t *testing.T) {
		g := NewGuarded(remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			return &models.SentimentResult{Label: models.EmotionAngry, Intensity: 4, Confidence: -1}, nil
		}), time.Second, logger)

		res := g.Analyze(ctx, text)
		assert.Equal(t, 1.0, res.Intensity)
		assert.Equal(t, 0.0, res.Confidence)
	})

	failures := map[string]Remote{
		"error": remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			return nil, errors.New("boom")
		}),
		"unknown label": remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			return &models.SentimentResult{Label: "melancholic", Intensity: 0.5, Confidence: 0.5}, nil
		}),
		"nan score": remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			return &models.SentimentResult{Label: models.EmotionSad, Intensity: math.NaN(), Confidence: 0.5}, nil
		}),
		"nil result": remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			return nil, nil
		}),
		"panic": remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			panic("remote exploded")
		}),
		"timeout": remoteFunc(func(ctx context.Context, _ string) (*models.SentimentResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		"ignores context": remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			time.Sleep(200 * time.Millisecond)
			return &models.SentimentResult{Label: models.EmotionSad, Intensity: 1, Confidence: 1}, nil
		}),
	}
	for name, remote := range failures {
		t.Run("falls back on "+name, func(t *testing.T) {
			g := NewGuarded(remote, 20*time.Millisecond, logger)
			assert.Equal(t, rules, g.Analyze(ctx, text))
		})
	}

	t.Run("empty text skips remote", func(t *testing.T) {
		var calls int32
		g := NewGuarded(remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
			atomic.AddInt32(&calls, 1)
			return &models.SentimentResult{Label: models.EmotionSad, Intensity: 1, Confidence: 1}, nil
		}), time.Second, logger)

		assert.Equal(t, models.NeutralSentiment(), g.Analyze(ctx, ""))
		assert.Zero(t, atomic.LoadInt32(&calls))
	})
}

func TestCached(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	var calls int32
	remote := remoteFunc(func(context.Context, string) (*models.SentimentResult, error) {
		atomic.AddInt32(&calls, 1)
		return &models.SentimentResult{Label: models.EmotionCurious, Intensity: 0.4, Confidence: 0.8}, nil
	})
	cached := NewCached(remote, rdb, time.Minute, zap.NewNop())
	ctx := context.Background()

	first, err := cached.Classify(ctx, "Tell me everything")
	require.NoError(t, err)
	second, err := cached.Classify(ctx, "  tell me EVERYTHING ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, time.Minute, mr.TTL(cacheKey("tell me everything")))

	t.Run("redis outage falls through", func(t *testing.T) {
		down, err := miniredis.Run()
		require.NoError(t, err)
		downClient := redis.NewClient(&redis.Options{Addr: down.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = downClient.Close() })
		down.Close()

		c := NewCached(remote, downClient, time.Minute, zap.NewNop())
		res, err := c.Classify(ctx, "another message")
		require.NoError(t, err)
		assert.Equal(t, models.EmotionCurious, res.Label)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})
}

func TestOpenAIRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_1",
			"object": "response",
			"created_at": 1700000000,
			"status": "completed",
			"model": "gpt-4o-mini",
			"output": [{
				"type": "message",
				"id": "msg_1",
				"role": "assistant",
				"status": "completed",
				"content": [{"type": "output_text", "annotations": [], "text": "{\"primary_emotion\":\"playful\",\"intensity\":0.6,\"confidence\":0.8}"}]
			}]
		}`))
	}))
	defer srv.Close()

	remote, err := NewOpenAIRemote(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := remote.Classify(context.Background(), "lol you're silly")
	require.NoError(t, err)
	assert.Equal(t, models.EmotionPlayful, res.Label)
	assert.Equal(t, 0.6, res.Intensity)
	assert.Equal(t, 0.8, res.Confidence)

	_, err = NewOpenAIRemote(OpenAIConfig{})
	assert.Error(t, err)
}

func TestGenerateSchema(t *testing.T) {
	schema := generateSchema[emotionAnalysis]()
	assert.Equal(t, false, schema["additionalProperties"])
	props, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, props, "primary_emotion")
	assert.ElementsMatch(t, []interface{}{"primary_emotion", "intensity", "confidence"}, schema["required"])
}
