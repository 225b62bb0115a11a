// File: internal/planner/gemini.go
package planner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/xkilldash9x/pagepilot/internal/config"
	"github.com/xkilldash9x/pagepilot/internal/observability"
)

const (
	defaultModel         = "gemini-2.5-flash"
	defaultMaxAttempts   = 3
	defaultRetryInterval = 500 * time.Millisecond
	maxRetryElapsed      = 2 * time.Minute
)

// Gemini plans with a Gemini model through the genai SDK.
type Gemini struct {
	client  *genai.Client
	model   string
	genCfg  *genai.GenerateContentConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	metrics *observability.Metrics

	maxAttempts   int
	retryInterval time.Duration
}

// NewGemini builds a Gemini planner. cfg.Endpoint overrides the API base URL.
func NewGemini(ctx context.Context, cfg config.PlannerConfig, logger *zap.Logger, metrics *observability.Metrics) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API Key is required")
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.APITimeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}
	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}

	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(cfg.Temperature),
	}
	if cfg.TopP > 0 {
		genCfg.TopP = genai.Ptr(cfg.TopP)
	}
	if cfg.TopK > 0 {
		genCfg.TopK = genai.Ptr(float32(cfg.TopK))
	}
	if cfg.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	return &Gemini{
		client:        client,
		model:         model,
		genCfg:        genCfg,
		logger:        logger.Named("planner.gemini"),
		limiter:       rate.NewLimiter(limit, 1),
		metrics:       metrics,
		maxAttempts:   attempts,
		retryInterval: defaultRetryInterval,
	}, nil
}

// Plan asks the model for actions. Unparseable answers are retried up to the
// configured number of attempts, and so are transient API failures, with
// exponential backoff. When the model cannot be reached or never
// answers usefully, the plan is a single respond intent carrying the error;
// only cancellation of ctx is returned as an error.
func (g *Gemini) Plan(ctx context.Context, req Request) (*Plan, error) {
	if strings.TrimSpace(req.Instruction) == "" {
		return nil, ErrEmptyInstruction
	}
	contents := g.buildContents(req)

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("planner rate limit wait: %w", err)
		}

		start := time.Now()
		text, err := g.generateWithRetry(ctx, contents)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			g.metrics.IncPlannerRequest("error")
			g.logger.Error("Gemini request failed.", zap.Int("attempt", attempt), zap.Error(err))
			return errorPlan(err), nil
		}

		plan, err := ParseResponse(text)
		if err != nil {
			g.metrics.IncPlannerRequest("unparseable")
			lastErr = err
			g.logger.Warn("Could not parse planner response.",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", g.maxAttempts),
				zap.String("response", text),
				zap.Error(err))
			continue
		}

		g.metrics.IncPlannerRequest("ok")
		g.logger.Info("Plan generated.",
			zap.Int("actions", len(plan.Actions)),
			zap.Int("attempt", attempt),
			zap.Duration("duration", time.Since(start)))
		return plan, nil
	}

	g.logger.Error("All planner attempts failed.", zap.Int("attempts", g.maxAttempts), zap.Error(lastErr))
	return errorPlan(lastErr), nil
}

func (g *Gemini) buildContents(req Request) []*genai.Content {
	parts := []*genai.Part{genai.NewPartFromText(userPrompt(req))}
	if len(req.Snapshot) > 0 {
		parts = append(parts, genai.NewPartFromBytes(req.Snapshot, "image/png"))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// generateWithRetry calls the model, retrying rate limiting, server errors and
// network failures. Any other error is returned at once.
func (g *Gemini) generateWithRetry(ctx context.Context, contents []*genai.Content) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.retryInterval
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = maxRetryElapsed

	var text string
	operation := func() error {
		var err error
		text, err = g.generate(ctx, contents)
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		g.metrics.IncPlannerRequest("retry")
		g.logger.Warn("Transient Gemini error, retrying...", zap.Duration("wait", wait), zap.Error(err))
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return "", err
	}
	return text, nil
}

// isTransient reports whether a failed model call is worth repeating.
func isTransient(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return transientStatus(apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return transientStatus(apiErrPtr.Code)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (g *Gemini) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, g.genCfg)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini API blocked the request (Reason: %s)", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini API returned no candidates")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini API returned empty content (Reason: %s)", resp.Candidates[0].FinishReason)
	}
	return text, nil
}
