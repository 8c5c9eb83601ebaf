package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"athena-rag-backend/internal/config"
	"athena-rag-backend/internal/logger"
)

// Generator produces a model completion for a fully assembled prompt.
// Prompt construction stays with the caller; this layer only owns the
// plumbing around the external call.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator wraps the Gemini content API with a circuit breaker,
// a tier-aware rate limiter, and a per-call deadline.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
	timeout     time.Duration
	retries     int
	backoff     time.Duration
}

type tierLimits struct {
	RPM int // Requests per minute
	RPD int // Requests per day
}

func limitsForTier(tier string) tierLimits {
	switch tier {
	case "tier1":
		return tierLimits{RPM: 1000, RPD: 10000}
	case "tier2":
		return tierLimits{RPM: 2000, RPD: 50000}
	default:
		return tierLimits{RPM: 10, RPD: 250}
	}
}

func NewGeminiGenerator(ctx context.Context, cfg *config.Config) (*GeminiGenerator, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY for generation")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, err
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "GeminiAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	// RPM limit with some buffer.
	limits := limitsForTier(cfg.GeminiTier)
	burst := limits.RPM / 10
	if burst < 1 {
		burst = 1
	}
	rateLimiter := rate.NewLimiter(rate.Limit(float64(limits.RPM)*0.9/60.0), burst)

	return &GeminiGenerator{
		client:      client,
		model:       cfg.GeminiModel,
		breaker:     breaker,
		rateLimiter: rateLimiter,
		timeout:     time.Duration(cfg.GenerationTimeoutSecs) * time.Second,
		retries:     cfg.ExternalRetries,
		backoff:     time.Duration(cfg.RetryBackoffMS) * time.Millisecond,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	tracer := otel.Tracer("gemini-generator")
	ctx, span := tracer.Start(ctx, "gemini.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("gemini.model", g.model),
		attribute.Int("gemini.prompt_chars", len(prompt)),
	)

	if err := g.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", err
	}

	var answer string
	err := withRetry(ctx, g.retries, g.backoff, func() error {
		result, err := g.breaker.Execute(func() (interface{}, error) {
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()

			model := g.client.GenerativeModel(g.model)
			model.SetTemperature(0.2)
			model.SetMaxOutputTokens(2048)

			resp, err := model.GenerateContent(callCtx, genai.Text(prompt))
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
					return nil, ErrGenerationTimeout
				}
				return nil, err
			}
			return extractText(resp), nil
		})
		if err != nil {
			return err
		}
		answer = result.(string)
		return nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		return "", err
	}

	span.SetAttributes(attribute.Int("gemini.answer_chars", len(answer)))
	return answer, nil
}

func extractText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return strings.TrimSpace(sb.String())
}

func (g *GeminiGenerator) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
