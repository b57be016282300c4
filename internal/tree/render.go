package tree

import (
	"fmt"
	"io"
	"strings"
)

// Render prints the hierarchy as an indented outline. Invokable nodes show
// their method and arguments.
func (t *Tree) Render(w io.Writer) error {
	var err error
	t.Walk(func(n Node, depth int) bool {
		if err != nil {
			return false
		}
		line := strings.Repeat("  ", depth) + n.Name
		if n.IsCommand {
			line += fmt.Sprintf(" [%s]", n.Method)
			if len(n.Arguments) > 0 {
				line += " <" + strings.Join(n.Arguments, "> <") + ">"
			}
		}
		_, err = fmt.Fprintln(w, line)
		return true
	})
	return err
}
