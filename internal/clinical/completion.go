package clinical

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	DefaultCompletionModel     = "claude-sonnet-4-20250514"
	DefaultCompletionMaxTokens = 2048
	DefaultCompletionTimeout   = 60 * time.Second
)

var ErrCompletionUnconfigured = errors.New("completion service not configured: ANTHROPIC_API_KEY missing")

// Completer is the hosted text-completion capability. Implementations may
// fail; callers treat any error as "no completion available".
type Completer interface {
	Complete(ctx context.Context, instructions, payload string) (string, error)
	ModelName() string
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

type CompletionConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int64
	Temperature float64
}

type AnthropicCompleter struct {
	messages    AnthropicMessager
	model       string
	maxTokens   int64
	temperature float64
}

func NewAnthropicCompleter(cfg CompletionConfig) (*AnthropicCompleter, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, ErrCompletionUnconfigured
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultCompletionModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultCompletionMaxTokens
	}
	return &AnthropicCompleter{
		messages:    newAnthropicClient(key),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

func (a *AnthropicCompleter) ModelName() string { return a.model }

func (a *AnthropicCompleter) Complete(ctx context.Context, instructions, payload string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		System:      []anthropic.TextBlockParam{{Text: instructions}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(payload))},
		Temperature: anthropic.Float(a.temperature),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// Refiner makes the single optional completion call a stage is allowed per
// run. There is no retry: a failed or unparseable answer sends the stage to
// its deterministic fallback.
type Refiner struct {
	completer Completer
	timeout   time.Duration
	logger    *zap.Logger
}

// NewRefiner accepts a nil completer, which puts every stage in degraded mode.
func NewRefiner(completer Completer, timeout time.Duration, logger *zap.Logger) *Refiner {
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refiner{completer: completer, timeout: timeout, logger: logger}
}

func (r *Refiner) Enabled() bool {
	return r != nil && r.completer != nil
}

func (r *Refiner) ModelName() string {
	if !r.Enabled() {
		return ""
	}
	return r.completer.ModelName()
}

// Refine sends instructions plus the JSON-encoded payload and decodes the
// answer into out. validate runs after a successful decode and may normalize
// out in place. The returned reason is ReasonNone only when out is usable.
func (r *Refiner) Refine(ctx context.Context, stage, instructions string, payload any, out any, validate func() error) DegradedReason {
	if !r.Enabled() {
		return ReasonCompletionDisabled
	}
	log := r.logger.With(zap.String("stage", stage), zap.String("model", r.completer.ModelName()))

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		log.Error("completion_payload_error", zap.Error(err))
		return ReasonCompletionFailed
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()
	raw, err := r.completer.Complete(callCtx, instructions, string(body))
	elapsed := time.Since(started).Milliseconds()
	if err != nil {
		log.Warn("completion_failed", zap.Int64("elapsed_ms", elapsed), zap.Error(err))
		return ReasonCompletionFailed
	}
	clean := stripCodeFences(raw)
	if clean == "" {
		log.Warn("completion_unparseable", zap.Int64("elapsed_ms", elapsed), zap.String("cause", "empty response"))
		return ReasonCompletionUnparseable
	}
	if err := json.Unmarshal([]byte(clean), out); err != nil {
		log.Warn("completion_unparseable", zap.Int64("elapsed_ms", elapsed), zap.Error(err))
		return ReasonCompletionUnparseable
	}
	if validate != nil {
		if err := validate(); err != nil {
			log.Warn("completion_unparseable", zap.Int64("elapsed_ms", elapsed), zap.Error(fmt.Errorf("validation: %w", err)))
			return ReasonCompletionUnparseable
		}
	}
	log.Debug("completion_success", zap.Int64("elapsed_ms", elapsed), zap.Int("response_chars", len(clean)))
	return ReasonNone
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		parts := strings.SplitN(s, "\n", 2)
		if len(parts) == 2 {
			s = parts[1]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimPrefix(s, "json")
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
	}
	return s
}
