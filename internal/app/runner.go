package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/ggonzalez94/swagcli/internal/auth"
	"github.com/ggonzalez94/swagcli/internal/cache"
	"github.com/ggonzalez94/swagcli/internal/config"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/executor"
	"github.com/ggonzalez94/swagcli/internal/hooks"
	"github.com/ggonzalez94/swagcli/internal/httpx"
	"github.com/ggonzalez94/swagcli/internal/logging"
	"github.com/ggonzalez94/swagcli/internal/model"
	"github.com/ggonzalez94/swagcli/internal/out"
	"github.com/ggonzalez94/swagcli/internal/plugins"
	"github.com/ggonzalez94/swagcli/internal/policy"
	"github.com/ggonzalez94/swagcli/internal/spec"
	"github.com/ggonzalez94/swagcli/internal/tree"
	"github.com/ggonzalez94/swagcli/internal/version"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	stdin  io.Reader
	now    func() time.Time
	setup  []func(*hooks.Registry)
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		stdin:  os.Stdin,
		now:    time.Now,
	}
}

// WithStdin replaces the reader used for "-" body values.
func (r *Runner) WithStdin(in io.Reader) *Runner {
	r.stdin = in
	return r
}

// Use registers fn to install hooks before the document is compiled, so
// path prehooks shape the generated commands.
func (r *Runner) Use(fn func(*hooks.Registry)) *Runner {
	r.setup = append(r.setup, fn)
	return r
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	logger   *slog.Logger
	hooks    *hooks.Registry
	http     *httpx.Client
	cache    cache.Store
	doc      *spec.Document
	tree     *tree.Tree
	table    map[string]*Descriptor
	exec     *executor.Executor
	root     *cobra.Command
	closers  []io.Closer

	lastCommand string
	lastHTTP    *model.HTTPStatus
}

func (r *Runner) Run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	state := &runtimeState{runner: r}
	defer state.close()

	err := state.bootstrap(ctx, args)
	if err == nil {
		root := state.newRootCommand()
		state.root = root
		root.SetArgs(args)
		root.SetOut(r.stdout)
		root.SetErr(r.stderr)
		root.SetIn(r.stdin)
		root.SilenceUsage = true
		root.SilenceErrors = true
		err = root.ExecuteContext(ctx)
	}

	err = normalizeRunError(err)
	if err == nil {
		return 0
	}
	state.renderError("", err)
	return clierr.ExitCode(err)
}

// bootstrap resolves settings and compiles the document before cobra sees
// the arguments, since the generated commands depend on both.
func (s *runtimeState) bootstrap(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet(version.CLIName, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	// Only flags ahead of the command name shape the compiled tree; the rest
	// may belong to the command and are left to cobra.
	fs.SetInterspersed(false)
	fs.BoolP("help", "h", false, "")
	bindGlobalFlags(fs, &s.flags)
	if err := fs.Parse(args); err != nil {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	}

	settings, err := config.Load(s.flags)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
	}
	s.settings = settings
	s.logger = s.log("swagcli")

	s.http = s.newHTTPClient()

	if settings.CacheEnabled {
		store, err := cache.Open(cache.Options{
			Backend:  settings.CacheBackend,
			Path:     settings.CachePath,
			LockPath: settings.CacheLockPath,
			MaxSize:  settings.CacheMaxSize,
			Now:      s.runner.now,
		})
		if err != nil {
			return clierr.Wrap(clierr.CodeInternal, "open cache", err)
		}
		s.cache = store
		s.closers = append(s.closers, store)
	}

	s.hooks = hooks.NewRegistry(s.log("hooks"))
	for _, fn := range s.runner.setup {
		fn(s.hooks)
	}
	closer, err := plugins.Install(s.hooks, settings.Plugins, s.log("plugins"))
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "install plugins", err)
	}

	return s.compile(ctx)
}

func (s *runtimeState) compile(ctx context.Context) error {
	if strings.TrimSpace(s.settings.Spec) == "" {
		s.logger.Debug("no spec configured; only builtin commands are available")
		return nil
	}
	header := http.Header{}
	for k, v := range s.settings.Headers {
		header.Set(k, v)
	}
	loader := &spec.Loader{
		Fetcher: s.http,
		Cache:   s.cache,
		TTL:     s.settings.SpecTTL,
		Header:  header,
		Logger:  s.log("spec"),
	}
	doc, err := loader.Load(ctx, s.settings.Spec)
	if err != nil {
		return err
	}
	for _, problem := range doc.Problems() {
		s.logger.Warn("ignoring malformed document entry", "problem", problem)
	}
	filter, err := policy.PathFilter(s.settings.IncludePaths, s.settings.ExcludePaths)
	if err != nil {
		return err
	}
	t, skipped := tree.Compile(doc, tree.CompileOptions{
		PathPrehook: s.hooks.PrehookPath,
		Filter:      filter,
		BaseURL:     s.settings.BaseURL,
	})
	for _, err := range skipped {
		s.logger.Warn("skipping path", "err", err)
	}
	s.doc = doc
	s.tree = t
	s.table = map[string]*Descriptor{}
	for _, d := range Describe(t) {
		s.table[d.FullPath] = &d
	}
	return nil
}

func (s *runtimeState) newHTTPClient() *httpx.Client {
	return httpx.New(s.settings.Timeout, s.settings.Retries,
		httpx.WithLogger(s.log("http")),
		httpx.WithUserAgent(version.CLIName+"/"+version.CLIVersion),
		httpx.WithInsecureSkipVerify(!s.settings.VerifySSL),
	)
}

// refreshSettings reloads settings once cobra has parsed every global flag,
// including those after the command name. The document was compiled from
// the leading flags, so a later --spec cannot change it.
func (s *runtimeState) refreshSettings() error {
	settings, err := config.Load(s.flags)
	if err != nil {
		return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
	}
	if settings.Spec != s.settings.Spec {
		s.logger.Warn("--spec must come before the command name; ignoring", "spec", settings.Spec)
		settings.Spec = s.settings.Spec
	}
	rebuild := settings.Timeout != s.settings.Timeout || settings.Retries != s.settings.Retries || settings.VerifySSL != s.settings.VerifySSL
	s.settings = settings
	if rebuild {
		s.http = s.newHTTPClient()
	}
	return nil
}

func (s *runtimeState) log(subsystem string) *slog.Logger {
	return logging.NewWriter(s.runner.stderr, subsystem, s.settings.LogLevel)
}

func (s *runtimeState) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i].Close()
	}
	s.closers = nil
}

// executor builds the request executor on first use so that commands which
// never send a request do not need valid credentials.
func (s *runtimeState) executor() (*executor.Executor, error) {
	if s.exec != nil {
		return s.exec, nil
	}
	authn, err := auth.New(s.settings.Auth, s.http.HTTPClient())
	if err != nil {
		return nil, err
	}
	s.exec = executor.New(executor.Options{
		HTTP:      s.http,
		Cache:     s.cache,
		CacheTTL:  s.settings.CacheTTL,
		Auth:      authn,
		Hooks:     s.hooks,
		Headers:   s.settings.Headers,
		UserAgent: s.http.UserAgent(),
		Stdin:     s.runner.stdin,
		Logger:    s.log("executor"),
		Now:       s.runner.now,
	})
	return s.exec, nil
}

func bindGlobalFlags(fs *pflag.FlagSet, f *config.GlobalFlags) {
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.StringVar(&f.Spec, "spec", "", "Swagger document URL or file")
	fs.StringVar(&f.BaseURL, "base-url", "", "Override the API base URL from the document")
	fs.BoolVar(&f.JSON, "json", false, "Output JSON (default)")
	fs.BoolVar(&f.Plain, "plain", false, "Output plain text")
	fs.StringVarP(&f.Output, "output", "o", "", "Output mode: json, plain, yaml, table")
	fs.StringVar(&f.Select, "select", "", "Select fields from data (comma-separated)")
	fs.BoolVar(&f.ResultsOnly, "results-only", false, "Output only data payload")
	fs.StringVar(&f.JSONPath, "jsonpath", "", "Filter response data with a JSONPath expression")
	fs.StringVar(&f.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	fs.StringVar(&f.Timeout, "timeout", "", "HTTP request timeout")
	fs.IntVar(&f.Retries, "retries", -1, "Maximum attempts per request")
	fs.BoolVar(&f.NoCache, "no-cache", false, "Disable cache reads and writes")
	fs.StringVar(&f.CacheTTL, "cache-ttl", "", "Lifetime of cached GET responses")
	fs.StringArrayVar(&f.IncludePaths, "include-path", nil, "Only compile path/method keys matching this regex (repeatable)")
	fs.StringArrayVar(&f.ExcludePaths, "exclude-path", nil, "Skip path/method keys matching this regex (repeatable)")
	fs.StringArrayVarP(&f.Headers, "header", "H", nil, "Extra request header as 'Name: value' (repeatable)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.BoolVar(&f.Insecure, "insecure", false, "Skip TLS certificate verification")
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	short := "Command-line client generated from a Swagger document"
	if s.doc != nil && s.doc.Info.Title != "" {
		short = s.doc.Info.Title
	}
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: short,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := s.refreshSettings(); err != nil {
				return err
			}
			return policy.CheckCommandAllowed(s.settings.EnableCommands, path)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})
	bindGlobalFlags(cmd.PersistentFlags(), &s.flags)

	s.materialize(cmd)
	s.addBuiltins(cmd)
	return cmd
}

func (s *runtimeState) emitSuccess(commandPath string, data any, cacheStatus model.CacheStatus, httpStatus *model.HTTPStatus) error {
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: true,
		Data:    data,
		Error:   nil,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			HTTP:      httpStatus,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	message := err.Error()
	var detail any
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
		detail = cErr.Detail
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    clierr.TypeName(clierr.Code(code)),
			Message: message,
			Detail:  detail,
		},
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			HTTP:      s.lastHTTP,
			Cache:     cacheMetaBypass(),
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

func newRequestID() string {
	return uuid.NewString()
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return clierr.Wrap(clierr.CodeInternal, "interrupted", err)
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
