// llm/openai.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
)

// Config configures the OpenAI-compatible generator.
type Config struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int64         `mapstructure:"max_tokens"`
	MaxAttempts    uint          `mapstructure:"max_attempts"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

// GenerationError reports a script request that failed after every attempt.
type GenerationError struct {
	Attempts int
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("llm: script generation failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// OpenAIGenerator generates scripts through the chat completions API.
type OpenAIGenerator struct {
	client openai.Client
	cfg    Config
	now    func() time.Time
}

// NewOpenAIGenerator builds a generator. The SDK's own retries are disabled
// so that attempts are counted and logged here.
func NewOpenAIGenerator(cfg Config) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.ChatModelGPT4oMini)
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 20 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), cfg: cfg, now: time.Now}, nil
}

// GenerateScript asks the model for a script with exactly numRoles roles.
// Transport failures and malformed replies are retried with exponential
// backoff; client errors other than rate limiting are not.
func (g *OpenAIGenerator) GenerateScript(ctx context.Context, prompt string, personality models.Personality, numRoles int, tone models.ContentTone) (*models.Script, error) {
	if numRoles <= 0 {
		return nil, &GenerationError{Err: models.ErrNoRoles}
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.cfg.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(personality, tone)),
			openai.UserMessage(userPrompt(prompt, numRoles)),
		},
	}
	if g.cfg.Temperature > 0 {
		params.Temperature = openai.Float(g.cfg.Temperature)
	}
	if g.cfg.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(g.cfg.MaxTokens)
	}

	attempts := 0
	op := func() (*models.Script, error) {
		attempts++
		actx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		defer cancel()

		resp, err := g.client.Chat.Completions.New(actx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError && apiErr.StatusCode != http.StatusTooManyRequests {
				return nil, backoff.Permanent(err)
			}
			logger.Log.Warnw("script generation attempt failed", "attempt", attempts, "personality", personality.ID, "error", err)
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: no choices", ErrMalformedScript)
		}
		script, err := ParseScript(resp.Choices[0].Message.Content, personality.ID, numRoles, g.now())
		if err != nil {
			logger.Log.Warnw("script reply rejected", "attempt", attempts, "personality", personality.ID, "error", err)
			return nil, err
		}
		return script, nil
	}

	script, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(g.cfg.MaxAttempts),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &GenerationError{Attempts: attempts, Err: errors.Join(err, ctx.Err())}
		}
		return nil, &GenerationError{Attempts: attempts, Err: err}
	}
	logger.Log.Infow("script generated", "personality", personality.ID, "roles", numRoles, "words", script.WordCount, "attempts", attempts)
	return script, nil
}
