package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

type ModelClass string

const (
	ModelFast     ModelClass = "fast"
	ModelPowerful ModelClass = "powerful"
)

type Request struct {
	Model     string
	Prompt    string
	System    string
	KeepAlive time.Duration
}

// Backend is the text-generation service. Available lists the models the
// backend can serve and is consulted before switching to a fallback.
type Backend interface {
	Infer(ctx context.Context, req Request) (string, error)
	Available(ctx context.Context) ([]string, error)
}

type Config struct {
	FastModels        []string
	PowerfulModels    []string
	FastTimeout       time.Duration
	PowerfulTimeout   time.Duration
	ColdStartGrace    time.Duration
	KeepAlive         time.Duration
	FallbackThreshold int
	RequestsPerMinute int
}

type Option func(*callOptions)

type callOptions struct {
	timeout time.Duration
	system  string
}

// WithTimeout replaces the model class budget for each attempt of the call.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) { o.timeout = d }
}

func WithSystem(prompt string) Option {
	return func(o *callOptions) { o.system = prompt }
}

// ErrThrottled is returned when the rate limiter cannot admit a request
// before the caller's deadline. Nothing was sent to the backend.
var ErrThrottled = errors.New("request throttled")

const availabilityTimeout = 10 * time.Second

type Client struct {
	backend        Backend
	retry          RetryPolicy
	clock          clockwork.Clock
	limiter        *rate.Limiter
	chains         map[ModelClass]*FallbackChain
	timeouts       map[ModelClass]time.Duration
	coldStartGrace time.Duration
	keepAlive      time.Duration

	mu       sync.Mutex
	lastUsed map[string]time.Time
}

func NewClient(backend Backend, retry RetryPolicy, config Config, clock clockwork.Clock) *Client {
	limit := rate.Inf
	burst := 1
	if config.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(config.RequestsPerMinute) / 60)
		burst = config.RequestsPerMinute
	}

	return &Client{
		backend: backend,
		retry:   retry,
		clock:   clock,
		limiter: rate.NewLimiter(limit, burst),
		chains: map[ModelClass]*FallbackChain{
			ModelFast:     NewFallbackChain(config.FastModels, config.FallbackThreshold),
			ModelPowerful: NewFallbackChain(config.PowerfulModels, config.FallbackThreshold),
		},
		timeouts: map[ModelClass]time.Duration{
			ModelFast:     config.FastTimeout,
			ModelPowerful: config.PowerfulTimeout,
		},
		coldStartGrace: config.ColdStartGrace,
		keepAlive:      config.KeepAlive,
		lastUsed:       make(map[string]time.Time),
	}
}

// Generate sends prompt to the model currently selected for class. Transient
// failures are retried according to the retry policy; once the call gives up
// the returned error is an *Error and no text is produced. A request the rate
// limiter could not admit in time fails with ErrThrottled instead.
func (c *Client) Generate(ctx context.Context, prompt string, class ModelClass, opts ...Option) (string, error) {
	chain, ok := c.chains[class]
	if !ok {
		return "", fatalError("", fmt.Errorf("unknown model class %q", class))
	}

	model := chain.Current()
	if model == "" {
		return "", fatalError("", fmt.Errorf("no model configured for class %q", class))
	}

	options := callOptions{timeout: c.timeouts[class]}
	for _, opt := range opts {
		opt(&options)
	}

	var text string
	attempts, err := c.retry.Do(ctx, c.clock, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrThrottled, err)
		}

		budget := options.timeout
		if c.isCold(model) {
			budget += c.coldStartGrace
		}

		attemptCtx := ctx
		if budget > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}

		out, err := c.backend.Infer(attemptCtx, Request{
			Model:     model,
			Prompt:    prompt,
			System:    options.system,
			KeepAlive: c.keepAlive,
		})
		if err != nil {
			if ctx.Err() == nil && attemptCtx.Err() != nil {
				return transientError(model, fmt.Errorf("attempt timed out after %s: %w", budget, err))
			}
			slog.Debug("Inference attempt failed", "model", model, "class", class, "attempt", attempt, "error", err)
			return err
		}

		text = out
		return nil
	})

	if err == nil {
		chain.RecordSuccess(model)
		c.markWarm(model)
		return text, nil
	}

	if ctx.Err() != nil {
		return "", fmt.Errorf("inference cancelled: %w", ctx.Err())
	}

	if errors.Is(err, ErrThrottled) {
		slog.Debug("Inference throttled", "model", model, "class", class, "attempts", attempts, "error", err)
		return "", err
	}

	classified := classifyFailure(err, model, attempts)

	slog.Warn("Inference failed", "model", model, "class", class, "attempts", attempts, "kind", classified.Kind, "error", err)
	c.recordFailure(ctx, class, chain, model)

	return "", classified
}

func classifyFailure(err error, model string, attempts int) *Error {
	var inferenceErr *Error
	if errors.As(err, &inferenceErr) {
		classified := *inferenceErr
		if classified.Model == "" {
			classified.Model = model
		}
		classified.Attempts = attempts
		return &classified
	}
	return &Error{Kind: Classify(err), Model: model, Attempts: attempts, Err: err}
}

func (c *Client) recordFailure(ctx context.Context, class ModelClass, chain *FallbackChain, model string) {
	if !chain.RecordFailure(model) {
		return
	}

	next := c.selectFallback(ctx, chain.Candidates())
	if next == "" {
		slog.Warn("No fallback model available", "class", class, "model", model)
		return
	}

	if chain.AdvanceTo(model, next) {
		slog.Warn("Switched to fallback model", "class", class, "from", model, "to", next)
	}
}

// selectFallback returns the first candidate the backend reports as
// installed. When the availability check itself fails the first candidate is used.
func (c *Client) selectFallback(ctx context.Context, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}

	availabilityCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), availabilityTimeout)
	defer cancel()

	installed, err := c.backend.Available(availabilityCtx)
	if err != nil {
		slog.Warn("Model availability check failed", "error", err)
		return candidates[0]
	}

	for _, candidate := range candidates {
		if modelInstalled(installed, candidate) {
			return candidate
		}
	}
	return ""
}

func modelInstalled(installed []string, model string) bool {
	for _, name := range installed {
		if name == model || (!strings.Contains(model, ":") && name == model+":latest") {
			return true
		}
	}
	return false
}

// isCold reports whether the backend probably has to load model before it
// can answer: it never answered, or has been idle past the keep-alive.
func (c *Client) isCold(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastUsed[model]
	if !ok {
		return true
	}
	return c.keepAlive > 0 && c.clock.Since(last) > c.keepAlive
}

func (c *Client) markWarm(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed[model] = c.clock.Now()
}

func (c *Client) State() map[ModelClass]ChainState {
	state := make(map[ModelClass]ChainState, len(c.chains))
	for class, chain := range c.chains {
		state[class] = chain.State()
	}
	return state
}

// Reset returns every model class to its primary model.
func (c *Client) Reset() {
	for class, chain := range c.chains {
		chain.Reset()
		slog.Info("Model selection reset", "class", class, "model", chain.Current())
	}
}
