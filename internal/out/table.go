package out

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"golang.org/x/term"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// renderTable draws a list of objects as rows keyed by the union of their
// fields, an object as key/value rows and anything else as a single cell.
func renderTable(w io.Writer, data any) error {
	headers, rows := tabulate(normalizeValue(data))
	t := table.New().Headers(headers...).Rows(rows...)
	if isTerminal(w) {
		t = t.Border(lipgloss.RoundedBorder()).StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	} else {
		t = t.Border(lipgloss.HiddenBorder()).StyleFunc(func(int, int) lipgloss.Style { return cellStyle })
	}
	_, err := fmt.Fprintln(w, t.String())
	return err
}

func tabulate(data any) ([]string, [][]string) {
	switch t := data.(type) {
	case []any:
		var keys []string
		seen := map[string]bool{}
		objects := true
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				objects = false
				break
			}
			for k := range m {
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
		if !objects {
			rows := make([][]string, 0, len(t))
			for _, item := range t {
				rows = append(rows, []string{cell(item)})
			}
			return []string{"value"}, rows
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(t))
		for _, item := range t {
			m := item.(map[string]any)
			row := make([]string, len(keys))
			for i, k := range keys {
				row[i] = cell(m[k])
			}
			rows = append(rows, row)
		}
		return keys, rows
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, k := range keys {
			rows = append(rows, []string{k, cell(t[k])})
		}
		return []string{"key", "value"}, rows
	default:
		return []string{"value"}, [][]string{{cell(t)}}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
