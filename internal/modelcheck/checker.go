package modelcheck

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/qorelogic/sentinel/internal/types"
)

// Defaults for Config
const (
	DefaultProbeTimeout  = 2 * time.Second
	DefaultCallTimeout   = 5 * time.Second
	DefaultMaxConcurrent = 1
	// MaxPromptContent is the number of content bytes quoted in a prompt
	MaxPromptContent = 2000
)

var structuredVerdict = regexp.MustCompile(`\b(ALLOW|DENY|ESCALATE)\b`)

// Config configures a Checker
type Config struct {
	Client       Client
	ProbeTimeout time.Duration
	CallTimeout  time.Duration
	// MaxConcurrent bounds in-flight calls. Default: 1
	MaxConcurrent int
	// RatePerMinute bounds call rate; 0 disables the limiter
	RatePerMinute    int
	FailureThreshold int
	OpenTimeout      time.Duration
	Logger           zerolog.Logger
}

// Checker guards model calls
type Checker struct {
	client       Client
	probeTimeout time.Duration
	callTimeout  time.Duration
	sem          *semaphore.Weighted
	limiter      *rate.Limiter
	breaker      *CircuitBreaker
	logger       zerolog.Logger
}

// NewChecker creates a Checker around cfg.Client
func NewChecker(cfg Config) (*Checker, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("model client is required")
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	logger := cfg.Logger.With().Str("component", "modelcheck").Str("model", cfg.Client.Name()).Logger()
	c := &Checker{
		client:       cfg.Client,
		probeTimeout: cfg.ProbeTimeout,
		callTimeout:  cfg.CallTimeout,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		breaker:      NewCircuitBreaker(cfg.FailureThreshold, 1, cfg.OpenTimeout, logger),
		logger:       logger,
	}
	if cfg.RatePerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1)
	}
	return c, nil
}

// Model returns the client's model name
func (c *Checker) Model() string { return c.client.Name() }

// Available probes the provider within the probe timeout
func (c *Checker) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()
	if err := c.client.Probe(ctx); err != nil {
		c.logger.Info().Err(err).Msg("model not available")
		return false
	}
	return true
}

// Evaluate asks the model about an artifact. Any error means there is no
// evaluation; callers degrade to heuristics.
func (c *Checker) Evaluate(ctx context.Context, path string, content []byte, results []types.HeuristicResult) (*types.ModelEvaluation, error) {
	if err := c.breaker.Allow(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire model slot: %w", err)
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("model rate limit: %w", err)
		}
	}

	prompt := BuildPrompt(path, content, results)
	resp, err := c.client.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			c.breaker.RecordFailure()
		}
		c.logger.Warn().Err(err).Str("path", path).Msg("model evaluation failed")
		return nil, err
	}
	c.breaker.RecordSuccess()

	return &types.ModelEvaluation{
		Model:          c.client.Name(),
		PromptUsed:     prompt,
		Response:       resp.Text,
		Confidence:     Confidence(results, resp.Text),
		ProcessingTime: resp.Duration,
	}, nil
}

// BuildPrompt renders the review prompt. Content is cut to
// MaxPromptContent bytes.
func BuildPrompt(path string, content []byte, results []types.HeuristicResult) string {
	var flags []string
	for _, r := range results {
		if r.Matched {
			flags = append(flags, r.PatternID)
		}
	}

	code := "File not readable"
	if len(content) > 0 {
		if len(content) > MaxPromptContent {
			content = content[:MaxPromptContent]
		}
		code = string(content)
	}

	var b strings.Builder
	b.WriteString("Analyze this code for security vulnerabilities, logic errors, and best practices violations.\n\n")
	fmt.Fprintf(&b, "File: %s\n", path)
	fmt.Fprintf(&b, "Heuristic Flags: %s\n\n", strings.Join(flags, ", "))
	b.WriteString("Code:\n```\n")
	b.WriteString(code)
	b.WriteString("\n```\n\n")
	b.WriteString("Respond with:\n")
	b.WriteString("1. Verdict (ALLOW, DENY or ESCALATE)\n")
	b.WriteString("2. Risk assessment (L1/L2/L3)\n")
	b.WriteString("3. Issues found (if any)\n")
	b.WriteString("4. Confidence (0-1)")
	return b.String()
}

// Confidence scores a model response by how much the heuristic findings
// agree with each other and whether the response carries a structured
// verdict. The result is in [0.3, 0.9].
func Confidence(results []types.HeuristicResult, response string) float64 {
	var first types.Severity
	agree := true
	seen := false
	for _, r := range results {
		if !r.Matched {
			continue
		}
		if !seen {
			first, seen = r.Severity, true
			continue
		}
		if r.Severity != first {
			agree = false
			break
		}
	}

	confidence := 0.5
	if agree {
		confidence = 0.8
	}
	switch {
	case structuredVerdict.MatchString(response):
		confidence += 0.1
	case len(strings.TrimSpace(response)) < 10:
		confidence -= 0.2
	}
	return min(0.9, max(0.3, confidence))
}
