package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Alignment specifies column text alignment.
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// column is one table column. Widths are computed from the content.
type column struct {
	name  string
	align Alignment
}

// table renders aligned rows with a header and a separator line.
type table struct {
	p       *printer
	columns []column
	rows    [][]string
	indent  string
}

func newTable(p *printer, columns ...column) *table {
	return &table{p: p, columns: columns, indent: "  "}
}

// addRow adds a row, padding missing cells.
func (t *table) addRow(values ...string) *table {
	for len(values) < len(t.columns) {
		values = append(values, "")
	}
	t.rows = append(t.rows, values)
	return t
}

func (t *table) widths() []int {
	widths := make([]int, len(t.columns))
	for i, col := range t.columns {
		widths[i] = lipgloss.Width(col.name)
	}
	for _, row := range t.rows {
		for i := range t.columns {
			widths[i] = max(widths[i], lipgloss.Width(row[i]))
		}
	}
	// the last column gives way when the terminal is narrow
	used := len(t.indent)
	for _, w := range widths[:len(widths)-1] {
		used += w + 2
	}
	if last := len(widths) - 1; last >= 0 && used+widths[last] > t.p.width {
		widths[last] = max(t.p.width-used, 8)
	}
	return widths
}

func (t *table) render() string {
	if len(t.columns) == 0 {
		return ""
	}
	widths := t.widths()
	var sb strings.Builder

	sb.WriteString(t.indent)
	for i, col := range t.columns {
		sb.WriteString(pad(t.p.header(col.name), col.name, widths[i], col.align))
		if i < len(t.columns)-1 {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("\n")

	total := 2 * (len(widths) - 1)
	for _, w := range widths {
		total += w
	}
	sb.WriteString(t.indent)
	sb.WriteString(t.p.dim(strings.Repeat("─", total)))
	sb.WriteString("\n")

	for _, row := range t.rows {
		sb.WriteString(t.indent)
		for i, col := range t.columns {
			val := row[i]
			if lipgloss.Width(val) > widths[i] {
				val = truncate(val, widths[i])
			}
			sb.WriteString(pad(val, val, widths[i], col.align))
			if i < len(t.columns)-1 {
				sb.WriteString("  ")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// pad aligns styled text using the width of its plain form.
func pad(styled, plain string, width int, align Alignment) string {
	gap := width - lipgloss.Width(plain)
	if gap <= 0 {
		return styled
	}
	if align == AlignRight {
		return strings.Repeat(" ", gap) + styled
	}
	return styled + strings.Repeat(" ", gap)
}

func truncate(s string, width int) string {
	runes := []rune(s)
	if width <= 3 || len(runes) <= width {
		return string(runes[:min(width, len(runes))])
	}
	return string(runes[:width-3]) + "..."
}
