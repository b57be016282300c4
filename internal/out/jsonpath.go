package out

import (
	"fmt"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ohler55/ojg/jp"
)

// ApplyJSONPath evaluates expr against data. A single match is returned on
// its own; otherwise the list of matches is returned.
func ApplyJSONPath(data any, expr string) (any, error) {
	x, err := jp.ParseString(expr)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid jsonpath %q", expr), err)
	}
	results := x.Get(normalizeValue(data))
	if len(results) == 1 {
		return results[0], nil
	}
	if results == nil {
		results = []any{}
	}
	return results, nil
}
