package app

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ggonzalez94/swagcli/internal/auth"
	"github.com/ggonzalez94/swagcli/internal/binder"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/executor"
	"github.com/ggonzalez94/swagcli/internal/plugins"
	"github.com/ggonzalez94/swagcli/internal/schema"
	"github.com/ggonzalez94/swagcli/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// addBuiltins attaches the fixed commands. A builtin is left out when the
// document already produced a top-level command with the same name.
func (s *runtimeState) addBuiltins(root *cobra.Command) {
	builtins := []*cobra.Command{
		newVersionCommand(),
		s.newSchemaCommand(),
		s.newTreeCommand(),
		s.newRequestCommand(),
		s.newValidateCommand(),
		s.newCacheCommand(),
		s.newAuthCommand(),
	}
	for _, cmd := range builtins {
		if hasChild(root, cmd.Name()) {
			s.logger.Warn("builtin shadowed by generated command", "command", cmd.Name())
			continue
		}
		root.AddCommand(cmd)
	}
}

func hasChild(parent *cobra.Command, name string) bool {
	for _, c := range parent.Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Print machine-readable command schema",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, cacheMetaBypass(), nil)
		},
	}
}

type operationInfo struct {
	Command   string   `json:"command"`
	Method    string   `json:"method"`
	Path      string   `json:"path"`
	URL       string   `json:"url"`
	Arguments []string `json:"arguments,omitempty"`
	Summary   string   `json:"summary,omitempty"`
}

func (s *runtimeState) newTreeCommand() *cobra.Command {
	var outline bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "List the operations compiled from the API document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.tree == nil {
				return clierr.New(clierr.CodeSpec, "no API document loaded; set --spec or spec in config")
			}
			if outline {
				return s.tree.Render(cmd.OutOrStdout())
			}
			ops := make([]operationInfo, 0, len(s.table))
			for _, n := range s.tree.Commands() {
				d, ok := s.table[n.FullPath]
				if !ok {
					continue
				}
				ops = append(ops, operationInfo{
					Command:   strings.Join(d.CommandPath, " "),
					Method:    d.Method,
					Path:      d.FullPath,
					URL:       d.URLTemplate,
					Arguments: d.Arguments,
					Summary:   d.Summary,
				})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), ops, cacheMetaBypass(), nil)
		},
	}
	cmd.Flags().BoolVar(&outline, "outline", false, "Print an indented outline instead of an envelope")
	return cmd
}

func (s *runtimeState) newRequestCommand() *cobra.Command {
	var method, path, data string
	var params []string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send an ad-hoc request to the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := s.requestURL(path)
			if err != nil {
				return err
			}
			slots := binder.Slots{}
			for _, p := range params {
				name, value, ok := strings.Cut(p, "=")
				if !ok || strings.TrimSpace(name) == "" {
					return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid --param %q; expected name=value", p))
				}
				slots = appendParam(slots, strings.TrimSpace(name), value)
			}
			if data != "" {
				slots[binder.SlotBody] = []binder.Binding{{Name: "body", Value: data}}
			}

			ex, err := s.executor()
			if err != nil {
				return err
			}
			resp, err := ex.Execute(cmd.Context(), executor.Request{
				Method:      method,
				URLTemplate: target,
				Slots:       slots,
				NoCache:     !s.settings.CacheEnabled,
			})
			if err != nil {
				return err
			}
			return s.route(trimRootPath(cmd.CommandPath()), nil, resp)
		},
	}
	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVar(&path, "path", "", "Path relative to the base URL, or an absolute URL")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON body, @file or - for stdin")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Query parameter as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

// appendParam adds a query value; repeating a name turns it into a multi
// collection.
func appendParam(slots binder.Slots, name, value string) binder.Slots {
	query := slots[binder.SlotQuery]
	for i, b := range query {
		if b.Name != name {
			continue
		}
		switch v := b.Value.(type) {
		case string:
			query[i].Value = []string{v, value}
		case []string:
			query[i].Value = append(v, value)
		}
		query[i].CollectionFormat = "multi"
		return slots
	}
	slots[binder.SlotQuery] = append(query, binder.Binding{Name: name, Value: value})
	return slots
}

func (s *runtimeState) requestURL(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	base := strings.TrimRight(s.settings.BaseURL, "/")
	if base == "" && s.doc != nil {
		base = strings.TrimRight(s.doc.BaseURL(), "/")
	}
	if base == "" {
		return "", clierr.New(clierr.CodeUsage, "no base URL; pass an absolute URL, --base-url or --spec")
	}
	return base + "/" + strings.TrimLeft(path, "/"), nil
}

func (s *runtimeState) newValidateCommand() *cobra.Command {
	var schemaPath, data string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a JSON document against a JSON schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sch, err := plugins.LoadSchema(schemaPath)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load schema", err)
			}
			doc, err := readDocument(data, cmd.InOrStdin())
			if err != nil {
				return err
			}
			details, err := plugins.ValidateDocument(sch, doc)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "normalize document", err)
			}
			if len(details) > 0 {
				return clierr.New(clierr.CodeValidation, "document does not match schema").
					WithDetail(map[string]any{"errors": details})
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{"valid": true}, cacheMetaBypass(), nil)
		},
	}
	cmd.Flags().StringVar(&schemaPath, "schema", "", "Path to a JSON or YAML schema file")
	cmd.Flags().StringVar(&data, "data", "-", "JSON document, @file or - for stdin")
	_ = cmd.MarkFlagRequired("schema")
	return cmd
}

func (s *runtimeState) newCacheCommand() *cobra.Command {
	root := &cobra.Command{Use: "cache", Short: "Response cache maintenance"}
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.cache == nil {
				return clierr.New(clierr.CodeUsage, "cache is disabled")
			}
			if err := s.cache.Clear(); err != nil {
				return clierr.Wrap(clierr.CodeInternal, "clear cache", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{"cleared": true}, cacheMetaBypass(), nil)
		},
	}
	pruneCmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove expired entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.cache == nil {
				return clierr.New(clierr.CodeUsage, "cache is disabled")
			}
			var removed int64
			if p, ok := s.cache.(interface{ PruneCount() (int64, error) }); ok {
				n, err := p.PruneCount()
				if err != nil {
					return clierr.Wrap(clierr.CodeInternal, "prune cache", err)
				}
				removed = n
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{"removed": removed}, cacheMetaBypass(), nil)
		},
	}
	root.AddCommand(clearCmd, pruneCmd)
	return root
}

func (s *runtimeState) newAuthCommand() *cobra.Command {
	root := &cobra.Command{Use: "auth", Short: "Authentication helpers"}
	pkce := &cobra.Command{Use: "pkce", Short: "OAuth2 authorization code flow with PKCE"}

	var state string
	urlCmd := &cobra.Command{
		Use:   "url",
		Short: "Print the authorization URL and the verifier to keep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := auth.NewPKCE(s.settings.Auth, s.http.HTTPClient())
			if err != nil {
				return err
			}
			if state == "" {
				state = uuid.NewString()
			}
			authURL, verifier := flow.AuthCodeURL(state)
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), map[string]any{
				"url":      authURL,
				"state":    state,
				"verifier": verifier,
			}, cacheMetaBypass(), nil)
		},
	}
	urlCmd.Flags().StringVar(&state, "state", "", "Opaque state value (random when empty)")

	var code, verifier string
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Exchange an authorization code for a token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flow, err := auth.NewPKCE(s.settings.Auth, s.http.HTTPClient())
			if err != nil {
				return err
			}
			tok, err := flow.Exchange(cmd.Context(), code, verifier)
			if err != nil {
				return err
			}
			data := map[string]any{
				"access_token": tok.AccessToken,
				"token_type":   tok.Type(),
			}
			if tok.RefreshToken != "" {
				data["refresh_token"] = tok.RefreshToken
			}
			if !tok.Expiry.IsZero() {
				data["expiry"] = tok.Expiry.UTC()
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), data, cacheMetaBypass(), nil)
		},
	}
	tokenCmd.Flags().StringVar(&code, "code", "", "Authorization code returned to the redirect URL")
	tokenCmd.Flags().StringVar(&verifier, "verifier", "", "Verifier printed by 'auth pkce url'")
	_ = tokenCmd.MarkFlagRequired("code")
	_ = tokenCmd.MarkFlagRequired("verifier")

	pkce.AddCommand(urlCmd, tokenCmd)
	root.AddCommand(pkce)
	return root
}

// readDocument reads a JSON document given inline, as @path or as - for
// stdin.
func readDocument(arg string, stdin io.Reader) (any, error) {
	var raw []byte
	switch {
	case arg == "-":
		buf, err := io.ReadAll(stdin)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read document from stdin", err)
		}
		raw = buf
	case strings.HasPrefix(arg, "@"):
		buf, err := os.ReadFile(strings.TrimPrefix(arg, "@"))
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read document file", err)
		}
		raw = buf
	default:
		raw = []byte(arg)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "decode document", err)
	}
	return doc, nil
}
