package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ggonzalez94/swagcli/internal/binder"
	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/executor"
	"github.com/ggonzalez94/swagcli/internal/schema"
	"github.com/ggonzalez94/swagcli/internal/tree"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// annotationParam ties a generated flag to the parameter it binds.
const annotationParam = "swagcli/param"

// paramFlagPrefix renames a parameter option whose name is taken by a global
// flag, so --timeout stays global and the parameter becomes --param-timeout.
const paramFlagPrefix = "param-"

// Descriptor is the static description of one operation command. Every
// generated command runs through runDescriptor with its descriptor.
type Descriptor struct {
	FullPath    string
	CommandPath []string
	Method      string
	URLTemplate string
	Arguments   []string
	Options     []binder.OptionSpec
	Slots       binder.Slots
	Responses   map[string]string
	Summary     string
	Description string
}

// Describe emits one descriptor per invokable node, in tree order.
func Describe(t *tree.Tree) []Descriptor {
	var out []Descriptor
	for _, n := range t.Commands() {
		d := Descriptor{
			FullPath:    n.FullPath,
			CommandPath: t.Ancestors(n.ID),
			Method:      n.Method,
			URLTemplate: n.RequestURL,
			Arguments:   n.Arguments,
			Slots:       binder.Template(n.Parameters),
			Responses:   n.Responses,
			Summary:     n.Summary,
			Description: n.Description,
		}
		for _, p := range n.Parameters {
			d.Options = append(d.Options, binder.ComputeOptionSpec(p))
		}
		out = append(out, d)
	}
	return out
}

// materialize mirrors the tree under root: one cobra command per node below
// the root, with operation nodes bound to their descriptor.
func (s *runtimeState) materialize(root *cobra.Command) {
	if s.tree == nil {
		return
	}
	cmds := map[tree.NodeID]*cobra.Command{tree.RootID: root}
	s.tree.Walk(func(n tree.Node, _ int) bool {
		if n.ID == tree.RootID {
			return true
		}
		cmd := &cobra.Command{Use: n.Name, Short: fmt.Sprintf("%s operations", n.Name)}
		if n.IsCommand {
			if d, ok := s.table[n.FullPath]; ok {
				s.bindOperation(root, cmd, n.Name, d)
			}
		}
		cmds[n.Parent].AddCommand(cmd)
		cmds[n.ID] = cmd
		return true
	})
}

func (s *runtimeState) bindOperation(root, cmd *cobra.Command, name string, d *Descriptor) {
	use := name
	for _, arg := range d.Arguments {
		use += " [" + arg + "]"
	}
	cmd.Use = use
	cmd.Short = d.Summary
	if cmd.Short == "" {
		cmd.Short = d.Method + " " + d.URLTemplate
	}
	cmd.Long = d.Description
	cmd.Annotations = map[string]string{
		schema.AnnotationPath:   d.FullPath,
		schema.AnnotationMethod: d.Method,
		schema.AnnotationURL:    d.URLTemplate,
	}
	cmd.Args = cobra.MaximumNArgs(len(d.Arguments))
	cmd.RunE = s.runDescriptor

	for i := range d.Options {
		opt := &d.Options[i]
		if root.PersistentFlags().Lookup(opt.Flag) != nil || opt.Flag == "help" {
			alias := paramFlagPrefix + opt.Flag
			s.logger.Debug("renaming option that shadows a global flag",
				"command", strings.Join(d.CommandPath, " "), "flag", opt.Flag, "alias", alias)
			opt.Flag = alias
		}
		if cmd.Flags().Lookup(opt.Flag) != nil {
			s.logger.Warn("skipping option that collides with an existing flag",
				"command", strings.Join(d.CommandPath, " "), "flag", opt.Flag, "parameter", opt.Name)
			continue
		}
		defineFlag(cmd, *opt)
	}
}

func defineFlag(cmd *cobra.Command, opt binder.OptionSpec) {
	fs := cmd.Flags()
	usage := opt.Description
	if len(opt.Enum) > 0 {
		usage = strings.TrimSpace(usage + " (one of: " + strings.Join(opt.Enum, ", ") + ")")
	}
	if opt.In != binder.SlotQuery {
		usage = strings.TrimSpace(usage + " [" + opt.In + "]")
	}
	switch {
	case opt.Multiple && opt.Type == binder.TypeInt:
		fs.IntSlice(opt.Flag, defaultInts(opt.Default), usage)
	case opt.Multiple:
		fs.StringArray(opt.Flag, defaultStrings(opt.Default), usage)
	case opt.Type == binder.TypeInt:
		fs.Int(opt.Flag, defaultInt(opt.Default), usage)
	default:
		fs.String(opt.Flag, defaultString(opt.Default), usage)
	}
	fs.Lookup(opt.Flag).Annotations = map[string][]string{annotationParam: {opt.Name}}
	// Path values may also be passed positionally, so only the executor can
	// tell whether one is missing.
	if opt.Required && opt.Default == nil && opt.In != binder.SlotPath {
		_ = cmd.MarkFlagRequired(opt.Flag)
	}
}

func (s *runtimeState) runDescriptor(cmd *cobra.Command, args []string) error {
	d, ok := s.table[cmd.Annotations[schema.AnnotationPath]]
	if !ok {
		return clierr.New(clierr.CodeInternal, "no operation bound to command")
	}
	values, err := collectValues(cmd.Flags(), d, args)
	if err != nil {
		return err
	}
	slots := binder.Bind(d.Slots, values, s.log("binder"))

	ex, err := s.executor()
	if err != nil {
		return err
	}
	resp, err := ex.Execute(cmd.Context(), executor.Request{
		Method:      d.Method,
		URLTemplate: d.URLTemplate,
		Slots:       slots,
		NoCache:     !s.settings.CacheEnabled,
	})
	if err != nil {
		return err
	}
	return s.route(trimRootPath(cmd.CommandPath()), d.Responses, resp)
}

// collectValues reads the flags bound to d's parameters, keyed by parameter
// name. Unset flags contribute their default when the parameter has one.
// Positional arguments fill path arguments that were not given as flags.
func collectValues(fs *pflag.FlagSet, d *Descriptor, args []string) (map[string]any, error) {
	values := map[string]any{}
	for _, opt := range d.Options {
		f := fs.Lookup(opt.Flag)
		if f == nil || len(f.Annotations[annotationParam]) == 0 || f.Annotations[annotationParam][0] != opt.Name {
			continue
		}
		if !f.Changed && opt.Default == nil {
			continue
		}
		v, err := flagValue(fs, opt)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, "read --"+opt.Flag, err)
		}
		if err := binder.ValidateValue(opt, v); err != nil {
			return nil, err
		}
		values[opt.Name] = v
	}
	for i, arg := range args {
		name := d.Arguments[i]
		if _, ok := values[name]; !ok {
			values[name] = arg
		}
	}
	return values, nil
}

func flagValue(fs *pflag.FlagSet, opt binder.OptionSpec) (any, error) {
	switch {
	case opt.Multiple && opt.Type == binder.TypeInt:
		return fs.GetIntSlice(opt.Flag)
	case opt.Multiple:
		return fs.GetStringArray(opt.Flag)
	case opt.Type == binder.TypeInt:
		return fs.GetInt(opt.Flag)
	default:
		return fs.GetString(opt.Flag)
	}
}

func defaultString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func defaultInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func defaultStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, defaultString(item))
	}
	return out
}

func defaultInts(v any) []int {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		out = append(out, defaultInt(item))
	}
	return out
}
