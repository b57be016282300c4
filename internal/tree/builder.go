package tree

import (
	"fmt"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/spec"
)

type Builder struct {
	nodes  []Node
	byPath map[string]NodeID
}

func NewBuilder() *Builder {
	return &Builder{
		nodes:  []Node{{ID: RootID, Name: "/", FullPath: "/", Parent: NoParent}},
		byPath: map[string]NodeID{"/": RootID},
	}
}

// AddPath inserts or merges a path/method pair. Argument segments ({name})
// create no node; they are recorded on the leaf in order. A leaf whose
// canonical path already exists reuses that node and the later operation
// wins.
func (b *Builder) AddPath(path, requestURL, method string, op *spec.Operation) error {
	segments, err := splitSegments(path)
	if err != nil {
		return err
	}

	parent := RootID
	var canonical []string
	for _, seg := range segments[:len(segments)-1] {
		if isArgument(seg) {
			continue
		}
		canonical = append(canonical, seg)
		parent = b.ensure(parent, seg, canonicalPath(canonical))
	}

	last := segments[len(segments)-1]
	if !isArgument(last) {
		canonical = append(canonical, last)
	}
	leafPath := canonicalPath(canonical)
	if leafPath == "/" {
		return clierr.New(clierr.CodePathBuild, fmt.Sprintf("path %q has no literal segment", path))
	}

	id, ok := b.byPath[leafPath]
	if !ok {
		id = b.ensure(parent, canonical[len(canonical)-1], leafPath)
	}
	b.configure(id, segments, requestURL, method, op)
	return nil
}

func (b *Builder) ensure(parent NodeID, name, fullPath string) NodeID {
	if id, ok := b.byPath[fullPath]; ok {
		return id
	}
	id := NodeID(len(b.nodes))
	b.nodes = append(b.nodes, Node{ID: id, Name: name, FullPath: fullPath, Parent: parent})
	b.nodes[parent].Children = append(b.nodes[parent].Children, id)
	b.byPath[fullPath] = id
	return id
}

func (b *Builder) configure(id NodeID, segments []string, requestURL, method string, op *spec.Operation) {
	n := &b.nodes[id]
	n.IsCommand = true
	n.Method = strings.ToUpper(method)
	n.RequestURL = requestURL
	n.Arguments = n.Arguments[:0]
	for _, seg := range segments {
		if isArgument(seg) {
			n.Arguments = append(n.Arguments, argumentNames(seg)...)
		}
	}
	n.Parameters = nil
	n.Responses = map[string]string{}
	n.Summary, n.Description, n.OperationID = "", "", ""
	if op == nil {
		return
	}
	n.Parameters = append(n.Parameters, op.Parameters...)
	for code, resp := range op.Responses {
		n.Responses[code] = resp.Description
	}
	n.Summary = op.Summary
	n.Description = op.Description
	n.OperationID = op.OperationID
}

// Build freezes the builder's state. The builder may keep being used; later
// additions do not affect trees already built.
func (b *Builder) Build() *Tree {
	t := &Tree{nodes: make([]Node, len(b.nodes)), byPath: make(map[string]NodeID, len(b.byPath))}
	for i, n := range b.nodes {
		t.nodes[i] = n.clone()
	}
	for k, v := range b.byPath {
		t.byPath[k] = v
	}
	return t
}

func splitSegments(path string) ([]string, error) {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if strings.Contains(seg, "{}") {
			return nil, clierr.New(clierr.CodePathBuild, fmt.Sprintf("empty path argument in %q", path))
		}
		if strings.ContainsAny(seg, "{}") && !isArgument(seg) {
			return nil, clierr.New(clierr.CodePathBuild, fmt.Sprintf("malformed path segment %q in %q", seg, path))
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, clierr.New(clierr.CodePathBuild, fmt.Sprintf("path %q has no segments", path))
	}
	return segments, nil
}

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// isArgument reports whether seg holds at least one {name} placeholder and
// no stray braces. Literal text around placeholders, as in {name}.json, is
// allowed.
func isArgument(seg string) bool {
	if !placeholderRe.MatchString(seg) {
		return false
	}
	return !strings.ContainsAny(placeholderRe.ReplaceAllString(seg, ""), "{}")
}

// argumentNames returns the placeholder names of seg in order.
func argumentNames(seg string) []string {
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(seg, -1) {
		names = append(names, m[1])
	}
	return names
}

func canonicalPath(segments []string) string {
	return "/" + strings.Join(segments, "/")
}

// CanonicalPath strips argument segments from a raw path.
func CanonicalPath(path string) string {
	var kept []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || isArgument(seg) {
			continue
		}
		kept = append(kept, seg)
	}
	return canonicalPath(kept)
}
