package tree

import (
	"fmt"
	"strings"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/spec"
)

type CompileOptions struct {
	// PathPrehook rewrites a path before it is inserted. The request URL
	// keeps the original path.
	PathPrehook func(string) string
	// Filter decides whether "path/method" is processed. Nil keeps all.
	Filter func(pathMethod string) bool
	// BaseURL replaces the scheme, host and base path taken from the
	// document when set.
	BaseURL string
}

// Compile turns a document's path map into a tree. Paths with several
// methods get one leaf per method suffixed "path/method"; a path with a
// single method keeps the bare path. Paths that cannot be inserted are
// skipped and reported.
func Compile(doc *spec.Document, opts CompileOptions) (*Tree, []error) {
	b := NewBuilder()
	baseURL := doc.BaseURL()
	if opts.BaseURL != "" {
		baseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	var skipped []error
	for _, rawPath := range doc.PathNames() {
		item := doc.Paths[rawPath]
		if item == nil || len(item.Operations) == 0 {
			continue
		}
		requestURL := baseURL + rawPath
		path := rawPath
		if opts.PathPrehook != nil {
			path = opts.PathPrehook(path)
		}
		methods := item.MethodNames()
		for _, method := range methods {
			leaf := path + "/" + method
			if opts.Filter != nil && !opts.Filter(leaf) {
				continue
			}
			if len(methods) == 1 {
				leaf = path
			}
			if err := b.AddPath(leaf, requestURL, method, item.Operations[method]); err != nil {
				skipped = append(skipped, clierr.Wrap(clierr.CodePathBuild, fmt.Sprintf("skip %s %s", method, rawPath), err))
			}
		}
	}
	return b.Build(), skipped
}
