package render

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/termenv"
)

// Markdown renders assistant text. Renderers are cached per width since
// building one is expensive.
type Markdown struct {
	profile termenv.Profile
	cache   sync.Map // map[int]*glamour.TermRenderer
}

// NewMarkdown returns a renderer for the given color profile.
func NewMarkdown(profile termenv.Profile) *Markdown {
	return &Markdown{profile: profile}
}

func (m *Markdown) renderer(width int) (*glamour.TermRenderer, error) {
	if cached, ok := m.cache.Load(width); ok {
		return cached.(*glamour.TermRenderer), nil
	}

	style := styles.DarkStyleConfig
	if m.profile == termenv.Ascii {
		style = styles.NoTTYStyleConfig
	}
	margin := uint(0)
	style.Document.Margin = &margin
	style.Document.BlockPrefix = ""
	style.Document.BlockSuffix = ""
	style.CodeBlock.Margin = &margin

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
		glamour.WithColorProfile(m.profile),
	)
	if err != nil {
		return nil, err
	}
	m.cache.Store(width, r)
	return r, nil
}

// Render renders content at width. On error the content is returned
// unchanged.
func (m *Markdown) Render(content string, width int) string {
	if content == "" {
		return ""
	}
	r, err := m.renderer(width)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(out)
}
