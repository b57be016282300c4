package tree

import (
	"bytes"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"testing"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/spec"
)

func mustParse(t *testing.T, body string) *spec.Document {
	t.Helper()
	doc, err := spec.Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse document: %v", err)
	}
	return doc
}

func mustAdd(t *testing.T, b *Builder, path, requestURL, method string, op *spec.Operation) {
	t.Helper()
	if err := b.AddPath(path, requestURL, method, op); err != nil {
		t.Fatalf("add %s: %v", path, err)
	}
}

func TestCompilePetByID(t *testing.T) {
	doc := mustParse(t, `{
		"host": "petstore.swagger.io",
		"basePath": "/v2",
		"paths": {"/pet/{petId}": {"get": {"responses": {"200": {"description": "ok"}}}}}
	}`)
	tr, skipped := Compile(doc, CompileOptions{})
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped paths: %v", skipped)
	}

	root := tr.Root()
	if root.FullPath != "/" || len(root.Children) != 1 {
		t.Fatalf("unexpected root: %#v", root)
	}

	pet := tr.Node(root.Children[0])
	if pet.Name != "pet" || pet.FullPath != "/pet" || !pet.IsCommand {
		t.Fatalf("unexpected pet node: %#v", pet)
	}
	if !reflect.DeepEqual(pet.Arguments, []string{"petId"}) {
		t.Fatalf("unexpected arguments: %v", pet.Arguments)
	}
	if pet.RequestURL != "https://petstore.swagger.io/v2/pet/{petId}" {
		t.Fatalf("unexpected request url: %s", pet.RequestURL)
	}
	if pet.Method != "GET" {
		t.Fatalf("unexpected method: %s", pet.Method)
	}
	if !reflect.DeepEqual(pet.Responses, map[string]string{"200": "ok"}) {
		t.Fatalf("unexpected responses: %v", pet.Responses)
	}
}

func TestCompileSuffixesMultipleMethods(t *testing.T) {
	doc := mustParse(t, `{"host": "h", "paths": {"/user": {"get": {}, "post": {}}}}`)
	tr, _ := Compile(doc, CompileOptions{})

	user, ok := tr.Lookup("/user")
	if !ok {
		t.Fatal("expected /user group")
	}
	if user.IsCommand || len(user.Parameters) != 0 {
		t.Fatalf("expected shared prefix to be a pure group: %#v", user)
	}

	for _, method := range []string{"get", "post"} {
		leaf, ok := tr.Lookup("/user/" + method)
		if !ok {
			t.Fatalf("expected /user/%s leaf", method)
		}
		if !leaf.IsCommand || leaf.Method != strings.ToUpper(method) {
			t.Fatalf("unexpected %s leaf: %#v", method, leaf)
		}
		if leaf.RequestURL != "https://h/user" || leaf.Parent != user.ID {
			t.Fatalf("unexpected %s leaf wiring: %#v", method, leaf)
		}
	}
}

func TestCompileLeafCountMatchesOperations(t *testing.T) {
	doc := mustParse(t, `{"host": "h", "paths": {
		"/a": {"get": {}},
		"/a/b": {"get": {}, "put": {}},
		"/a/{id}/c": {"delete": {}},
		"/d/e/f": {"get": {}, "post": {}, "patch": {}},
		"/g/{x}/{y}": {"get": {}}
	}}`)
	tr, skipped := Compile(doc, CompileOptions{})
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped paths: %v", skipped)
	}
	if got := len(tr.Commands()); got != 8 {
		t.Fatalf("expected 8 commands, got %d", got)
	}

	paths := map[string]bool{}
	tr.Walk(func(n Node, _ int) bool {
		if paths[n.FullPath] {
			t.Fatalf("duplicate full path %s", n.FullPath)
		}
		paths[n.FullPath] = true
		if !n.IsCommand && len(n.Parameters) != 0 {
			t.Fatalf("group %s carries parameters", n.FullPath)
		}
		return true
	})
}

func TestCompileSkipsOnlyMalformedOperations(t *testing.T) {
	doc := mustParse(t, `{"host": "h", "paths": {
		"/a": {"get": {"parameters": {"x": 1}, "responses": {"200": "ok"}}},
		"/b": {"get": {"parameters": [{"name": "kind", "in": "query", "enum": "x"}]}},
		"/pets": {"get": {}}
	}}`)
	tr, skipped := Compile(doc, CompileOptions{})
	if len(skipped) != 0 {
		t.Fatalf("unexpected skipped paths: %v", skipped)
	}
	if got := len(tr.Commands()); got != 3 {
		t.Fatalf("expected 3 commands, got %d", got)
	}
	a, ok := tr.Lookup("/a")
	if !ok || a.Responses["200"] != "ok" {
		t.Fatalf("unexpected /a node: %#v", a)
	}
	if _, ok := tr.Lookup("/pets"); !ok {
		t.Fatal("expected /pets command")
	}
}

func TestAddPathRecordsArgumentsInOrder(t *testing.T) {
	b := NewBuilder()
	mustAdd(t, b, "/orgs/{org}/repos/{repo}/issues/{number}", "u", "get", nil)
	tr := b.Build()

	leaf, ok := tr.Lookup("/orgs/repos/issues")
	if !ok {
		t.Fatal("expected /orgs/repos/issues leaf")
	}
	if !reflect.DeepEqual(leaf.Arguments, []string{"org", "repo", "number"}) {
		t.Fatalf("unexpected arguments: %v", leaf.Arguments)
	}
	if got := tr.Ancestors(leaf.ID); !reflect.DeepEqual(got, []string{"orgs", "repos", "issues"}) {
		t.Fatalf("unexpected ancestors: %v", got)
	}

	// argument segments never create nodes
	tr.Walk(func(n Node, _ int) bool {
		if strings.Contains(n.Name, "{") {
			t.Fatalf("node %q holds a placeholder", n.Name)
		}
		return true
	})
}

func TestAddPathArgumentsWithLiteralText(t *testing.T) {
	cases := []struct {
		path     string
		fullPath string
		args     []string
	}{
		{"/files/{name}.json", "/files", []string{"name"}},
		{"/v{version}/x", "/x", []string{"version"}},
		{"/tiles/{z}-{x}-{y}.png/meta", "/tiles/meta", []string{"z", "x", "y"}},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			b := NewBuilder()
			mustAdd(t, b, tc.path, "u"+tc.path, "get", nil)
			leaf, ok := b.Build().Lookup(tc.fullPath)
			if !ok {
				t.Fatalf("expected %s leaf", tc.fullPath)
			}
			if !reflect.DeepEqual(leaf.Arguments, tc.args) {
				t.Fatalf("unexpected arguments: %v", leaf.Arguments)
			}
			if leaf.RequestURL != "u"+tc.path {
				t.Fatalf("request url must keep the template: %s", leaf.RequestURL)
			}
		})
	}

	doc := mustParse(t, `{"host": "h", "paths": {"/files/{name}.json": {"get": {}}, "/pets": {"get": {}}}}`)
	tr, skipped := Compile(doc, CompileOptions{})
	if len(skipped) != 0 || len(tr.Commands()) != 2 {
		t.Fatalf("expected two commands and no skips, got %d commands, skipped %v", len(tr.Commands()), skipped)
	}
	if got := CanonicalPath("/files/{name}.json"); got != "/files" {
		t.Fatalf("unexpected canonical path: %s", got)
	}
}

func TestAddPathRejectsMalformedPaths(t *testing.T) {
	for _, path := range []string{"", "/", "//", "/{id}", "/pet/{petId", "/a/{}", "/a/x}{y"} {
		t.Run(fmt.Sprintf("%q", path), func(t *testing.T) {
			b := NewBuilder()
			err := b.AddPath(path, "u", "get", nil)
			if !clierr.Is(err, clierr.CodePathBuild) {
				t.Fatalf("expected path build error, got %v", err)
			}
			if got := b.Build().Len(); got != 1 {
				t.Fatalf("expected no node created, got %d nodes", got)
			}
		})
	}
}

func TestAddPathMergesCanonicalCollisions(t *testing.T) {
	b := NewBuilder()
	mustAdd(t, b, "/pet/{id}", "u1", "get", &spec.Operation{Summary: "first"})
	mustAdd(t, b, "/pet/{petId}", "u2", "get", &spec.Operation{Summary: "second"})
	tr := b.Build()

	if tr.Len() != 2 {
		t.Fatalf("expected 2 nodes, got %d", tr.Len())
	}
	pet, _ := tr.Lookup("/pet")
	if pet.Summary != "second" || pet.RequestURL != "u2" {
		t.Fatalf("expected last registration to win: %#v", pet)
	}
	if !reflect.DeepEqual(pet.Arguments, []string{"petId"}) {
		t.Fatalf("unexpected arguments: %v", pet.Arguments)
	}
}

func TestAddPathDefaultsMissingConfig(t *testing.T) {
	b := NewBuilder()
	mustAdd(t, b, "/ping", "u", "get", nil)
	ping, _ := b.Build().Lookup("/ping")
	if ping.Responses == nil {
		t.Fatal("expected responses to default to an empty map")
	}
	if len(ping.Parameters) != 0 {
		t.Fatalf("unexpected parameters: %#v", ping.Parameters)
	}
}

func TestCompileAppliesPrehookAndFilter(t *testing.T) {
	doc := mustParse(t, `{"host": "h", "basePath": "/api", "paths": {
		"/v1/pets": {"get": {}, "post": {}},
		"/v1/admin/users": {"get": {}}
	}}`)
	exclude := regexp.MustCompile(`^/admin`)
	tr, _ := Compile(doc, CompileOptions{
		PathPrehook: func(p string) string { return strings.TrimPrefix(p, "/v1") },
		Filter:      func(pm string) bool { return !exclude.MatchString(pm) },
	})

	if _, ok := tr.Lookup("/admin/users"); ok {
		t.Fatal("expected /admin/users to be filtered")
	}
	get, ok := tr.Lookup("/pets/get")
	if !ok {
		t.Fatal("expected /pets/get leaf")
	}
	if get.RequestURL != "https://h/api/v1/pets" {
		t.Fatalf("request url must keep the raw path: %s", get.RequestURL)
	}
}

func TestCompileBaseURLOverride(t *testing.T) {
	doc := mustParse(t, `{"host": "petstore.swagger.io", "basePath": "/v2", "paths": {"/store/inventory": {"get": {}}}}`)
	tr, _ := Compile(doc, CompileOptions{BaseURL: "http://127.0.0.1:8080/v2/"})

	inv, ok := tr.Lookup("/store/inventory")
	if !ok {
		t.Fatal("expected /store/inventory leaf")
	}
	if inv.RequestURL != "http://127.0.0.1:8080/v2/store/inventory" {
		t.Fatalf("unexpected request url: %s", inv.RequestURL)
	}
}

func TestCompileReportsSkippedPaths(t *testing.T) {
	doc := mustParse(t, `{"host": "h", "paths": {"/{id}": {"get": {}}, "/ok": {"get": {}}}}`)
	tr, skipped := Compile(doc, CompileOptions{})
	if len(skipped) != 1 || !clierr.Is(skipped[0], clierr.CodePathBuild) {
		t.Fatalf("expected one path build error, got %v", skipped)
	}
	if got := len(tr.Commands()); got != 1 {
		t.Fatalf("expected 1 command, got %d", got)
	}
}

func TestBuildIsIsolatedFromBuilder(t *testing.T) {
	b := NewBuilder()
	mustAdd(t, b, "/a", "u", "get", nil)
	tr := b.Build()
	mustAdd(t, b, "/a/b", "u", "get", nil)

	if tr.Len() != 2 {
		t.Fatalf("expected built tree to keep 2 nodes, got %d", tr.Len())
	}
	snap := tr.Snapshot()
	snap[0].Children = append(snap[0].Children, 42)
	if got := len(tr.Root().Children); got != 1 {
		t.Fatalf("snapshot leaked into tree: %d children", got)
	}
}

func TestRender(t *testing.T) {
	b := NewBuilder()
	mustAdd(t, b, "/pet/{petId}", "u", "get", nil)
	mustAdd(t, b, "/pet/findByStatus", "u", "get", nil)

	var buf bytes.Buffer
	if err := b.Build().Render(&buf); err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := buf.String(); got != "/\n  pet [GET] <petId>\n    findByStatus [GET]\n" {
		t.Fatalf("unexpected outline:\n%s", got)
	}
}
