package render

import (
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// DefaultWidth is used when the output is not a terminal.
const DefaultWidth = 80

// Terminal describes an output stream.
type Terminal struct {
	TTY     bool
	Width   int
	Profile termenv.Profile
}

// Detect inspects f. Output that is not a terminal gets no color and the
// default width; NO_COLOR is honored through termenv.
func Detect(f *os.File) Terminal {
	t := Terminal{Width: DefaultWidth, Profile: termenv.Ascii}
	fd := int(f.Fd())
	if !term.IsTerminal(fd) {
		return t
	}
	t.TTY = true
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		t.Width = w
	}
	t.Profile = termenv.NewOutput(f).EnvColorProfile()
	return t
}
