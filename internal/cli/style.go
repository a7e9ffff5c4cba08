package cli

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/mollendorff-ai/forge/internal/formula"
)

const defaultWidth = 100

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	nameStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// printer styles and formats everything a command writes.
type printer struct {
	w     io.Writer
	color bool
	width int
	nums  *message.Printer
}

func newPrinter(w io.Writer, noColor bool) *printer {
	p := &printer{w: w, width: defaultWidth, nums: message.NewPrinter(language.English)}
	f, ok := w.(*os.File)
	if !ok || !isTerminal(f) {
		return p
	}
	p.color = !noColor && os.Getenv("NO_COLOR") == ""
	if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
		p.width = width
	}
	return p
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) render(style lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return style.Render(text)
}

func (p *printer) success(text string) string { return p.render(successStyle, "✓ ") + text }
func (p *printer) failure(text string) string { return p.render(errorStyle, "✗ ") + text }
func (p *printer) header(text string) string  { return p.render(headerStyle, text) }
func (p *printer) dim(text string) string     { return p.render(dimStyle, text) }
func (p *printer) name(text string) string    { return p.render(nameStyle, text) }

// value formats a calculated value for people: grouped digits, at most six
// decimals.
func (p *printer) value(v formula.Value) string {
	switch v.Kind() {
	case formula.KindNumber:
		return p.nums.Sprint(number.Decimal(v.Float(), number.MaxFractionDigits(6)))
	case formula.KindNull:
		return p.dim("-")
	}
	return v.AsText()
}
