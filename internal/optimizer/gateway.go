// Package optimizer talks to the external route optimizer: it builds the
// request from orders and drivers, calls a language model through langchaingo
// and turns the answer into a validated OptimizationResult. It never computes
// distances or times itself; every routing number is taken from the answer.
package optimizer

import (
	"context"
	"errors"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dmeRoutePlanner/internal/apperr"
	"dmeRoutePlanner/internal/metrics"
	"dmeRoutePlanner/models"
)

// Model is one named optimizer backend.
type Model struct {
	Name string
	LLM  llms.Model
}

// Config bounds optimizer calls.
type Config struct {
	// Timeout applies to each model call; zero means 90s.
	Timeout time.Duration
	// RequestsPerMinute caps calls across all sessions; zero disables the limit.
	RequestsPerMinute int
	Temperature       float64
}

// Gateway calls its models in order until one returns a usable result.
type Gateway struct {
	models  []Model
	cfg     Config
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewGateway returns a gateway over models, tried in the given order.
func NewGateway(cfg Config, models []Model, log *zap.Logger, m *metrics.Metrics) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}
	return &Gateway{models: models, cfg: cfg, limiter: limiter, log: log, metrics: m}
}

// Optimize assigns orders to drivers. Network, auth and timeout failures are
// OptimizationErrors; unusable answers are OptimizationParseErrors. Either one
// moves on to the next model, and the last failure is returned when all fail.
// Inputs are never modified.
func (g *Gateway) Optimize(ctx context.Context, orders []models.Order, drivers []models.Driver) (*models.OptimizationResult, error) {
	if len(orders) == 0 {
		return nil, apperr.Invalid("orders", "no orders to optimize")
	}
	if len(drivers) == 0 {
		return nil, apperr.Invalid("drivers", "no drivers selected")
	}
	if len(g.models) == 0 {
		return nil, &apperr.OptimizationError{Err: errors.New("no optimizer model configured")}
	}
	date := dateOf(orders)
	prompt := BuildPrompt(orders, drivers)

	var lastErr error
	for _, m := range g.models {
		res, err := g.call(ctx, m, prompt, orders, drivers, date)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		g.log.Warn("optimizer model failed", zap.String("model", m.Name), zap.Error(err))
	}
	return nil, lastErr
}

func (g *Gateway) call(ctx context.Context, m Model, prompt string, orders []models.Order, drivers []models.Driver, date string) (*models.OptimizationResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &apperr.OptimizationError{Model: m.Name, Err: err}
	}
	cctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := m.LLM.GenerateContent(cctx, []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}, llms.WithTemperature(g.cfg.Temperature))
	elapsed := time.Since(start)
	if err == nil && (resp == nil || len(resp.Choices) == 0) {
		err = errors.New("empty response")
	}
	if err != nil {
		g.metrics.ObserveOptimization(m.Name, "error", elapsed)
		return nil, &apperr.OptimizationError{Model: m.Name, Err: err}
	}

	res, err := ParseResponse(resp.Choices[0].Content, orders, drivers, date)
	if err != nil {
		g.metrics.ObserveOptimization(m.Name, "parse_error", elapsed)
		return nil, err
	}
	g.metrics.ObserveOptimization(m.Name, "ok", elapsed)
	g.log.Info("optimization finished",
		zap.String("model", m.Name),
		zap.Duration("elapsed", elapsed),
		zap.Int("routes", len(res.Routes)),
		zap.Int("unassigned", len(res.Unassigned)),
		zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

func dateOf(orders []models.Order) string {
	for _, o := range orders {
		if o.Date != "" {
			return o.Date
		}
	}
	return time.Now().Format(models.DateLayout)
}
