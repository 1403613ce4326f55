package llm

import (
	"fmt"
	"os"

	"github.com/samsaffron/term-agent/internal/config"
)

// Options adjust how NewProvider wraps the backend.
type Options struct {
	Retry    RetryConfig
	DebugLog *DebugLogger
}

// NewProvider creates the backend for a resolved provider selection. Real
// backends are wrapped with automatic retry for rate limits and transient
// errors; the mock backend is not.
func NewProvider(pc *config.ProviderConfig, opts Options) (Provider, error) {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}

	var provider Provider
	switch pc.Kind {
	case config.KindOpenAI:
		provider = NewOpenAIProvider("OpenAI", pc.BaseURL, pc.APIKey, pc.Model)
	case config.KindOpenAICompat:
		key := pc.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_COMPATIBLE_API_KEY")
		}
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OPENAI_COMPATIBLE_BASE_URL")
		}
		provider = NewOpenAIProvider(pc.ID, baseURL, key, pc.Model)
	case config.KindAnthropic:
		p, err := NewAnthropicProvider(pc.APIKey, pc.BaseURL, pc.Model)
		if err != nil {
			return nil, err
		}
		provider = p
	case config.KindGemini:
		p, err := NewGeminiProvider(pc.APIKey, pc.Model)
		if err != nil {
			return nil, err
		}
		provider = p
	case config.KindMock:
		return WrapWithDebugLog(NewMockProvider(pc.ID).WithEcho(), opts.DebugLog), nil
	default:
		return nil, &config.ConfigError{Field: "kind", Err: fmt.Errorf("unknown provider kind %q", pc.Kind)}
	}

	return WrapWithRetry(WrapWithDebugLog(provider, opts.DebugLog), opts.Retry), nil
}
