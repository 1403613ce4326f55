package llm

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/samsaffron/term-agent/internal/config"
)

// ProviderModels contains the curated list of common models per provider kind.
var ProviderModels = map[config.ProviderKind][]string{
	config.KindAnthropic: {
		"claude-sonnet-4-5",
		"claude-opus-4-1",
		"claude-haiku-4-5",
	},
	config.KindOpenAI: {
		"gpt-5",
		"gpt-5-mini",
		"gpt-4.1",
		"gpt-4o",
		"gpt-4o-mini",
	},
	config.KindGemini: {
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
	},
	config.KindOpenAICompat: {
		"qwen3",
		"llama-3.3-70b",
		"mistral-small-3.2",
		"deepseek-r1",
		"gpt-oss-20b",
	},
}

// DefaultContextLimit is used when a model matches nothing in the table.
const DefaultContextLimit = 30_096

// minSimilarity is the lowest similarity accepted for a fuzzy table match.
const minSimilarity = 0.6

// ModelLimit is one row of the context-limit table.
type ModelLimit struct {
	Key    string
	Tokens int
}

// contextLimits maps normalized model keys to their context window.
var contextLimits = []ModelLimit{
	// OpenAI
	{"gpt-oss", 10_000},
	{"gpt-4o", 128_000},
	{"gpt-4-1", 1_047_576},
	{"gpt-5", 400_000},

	// Anthropic
	{"claude", 200_000},

	// Google
	{"gemini", 1_048_576},

	// Mistral
	{"mistral-small-3-2", 128_000},
	{"mistral-7b", 32_000},
	{"mistral-nemo", 32_000},
	{"mixtral-8x7b", 32_000},

	// Qwen
	{"qwen3", 32_000},
	{"qwen-2-5", 32_000},

	// Llama
	{"llama-3-1", 131_000},
	{"llama-3-3", 131_000},
	{"meta-llama-3-3", 131_000},
	{"meta-llama-3-1", 131_000},

	// DeepSeek
	{"deepseek-r1", 128_000},
}

// ContextLimits returns a copy of the context-limit table sorted by key.
func ContextLimits() []ModelLimit {
	out := append([]ModelLimit(nil), contextLimits...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// ContextLimitForModel returns the context window for a model name. Lookup
// is exact key, then the longest key contained in the name, then the most
// similar fuzzy candidate; anything below the similarity floor gets
// DefaultContextLimit.
func ContextLimitForModel(model string) int {
	limit, _ := LookupContextLimit(model)
	return limit
}

// LookupContextLimit is ContextLimitForModel that also reports the table key
// that matched ("" for the default).
func LookupContextLimit(model string) (int, string) {
	name := normalizeModelName(model)
	if name == "" {
		return DefaultContextLimit, ""
	}

	for _, row := range contextLimits {
		if row.Key == name {
			return row.Tokens, row.Key
		}
	}

	var contained *ModelLimit
	for i := range contextLimits {
		row := &contextLimits[i]
		if strings.Contains(name, row.Key) && (contained == nil || len(row.Key) > len(contained.Key)) {
			contained = row
		}
	}
	if contained != nil {
		return contained.Tokens, contained.Key
	}

	keys := make([]string, len(contextLimits))
	for i, row := range contextLimits {
		keys[i] = row.Key
	}
	candidates := map[int]bool{}
	for _, m := range fuzzy.Find(name, keys) {
		candidates[m.Index] = true
	}
	for i, key := range keys {
		if len(fuzzy.Find(key, []string{name})) > 0 {
			candidates[i] = true
		}
	}

	best, bestScore := -1, 0.0
	for i := range keys {
		if !candidates[i] {
			continue
		}
		score := similarity(name, keys[i])
		if score >= minSimilarity && score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return DefaultContextLimit, ""
	}
	return contextLimits[best].Tokens, contextLimits[best].Key
}

// ResolveContextBudget returns the effective token budget for a provider
// selection, filling in "auto" from the table.
func ResolveContextBudget(pc *config.ProviderConfig) int {
	if pc.ContextAuto {
		return ContextLimitForModel(pc.Model)
	}
	return pc.MaxContextTokens
}

// normalizeModelName lowercases, drops any "org/" prefix and turns the
// separators vendors disagree on into dashes.
func normalizeModelName(model string) string {
	name := strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.NewReplacer(".", "-", "_", "-", " ", "-", ":", "-").Replace(name)
	return name
}

// similarity scores positional character agreement, with a bonus when one
// string contains the other. 1.0 is identical.
func similarity(a, b string) float64 {
	ar, br := []rune(a), []rune(b)
	maxLen := max(len(ar), len(br))
	if maxLen == 0 {
		return 1
	}
	minLen := min(len(ar), len(br))
	matches := 0
	for i := 0; i < minLen; i++ {
		if ar[i] == br[i] {
			matches++
		}
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		matches += minLen / 2
	}
	return float64(matches) / float64(maxLen)
}
