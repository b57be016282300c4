// Package binder derives CLI option specs from operation parameters and
// places invocation values into request slots.
package binder

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
	"github.com/ggonzalez94/swagcli/internal/spec"
)

const (
	TypeInt    = "int"
	TypeString = "string"
)

// Slot kinds, named after the parameter "in" location.
const (
	SlotPath     = "path"
	SlotQuery    = "query"
	SlotHeader   = "header"
	SlotBody     = "body"
	SlotFormData = "formData"
)

var SlotKinds = []string{SlotPath, SlotQuery, SlotHeader, SlotBody, SlotFormData}

type OptionSpec struct {
	Name             string
	Flag             string
	In               string
	Required         bool
	Type             string
	Enum             []string
	Default          any
	Multiple         bool
	Description      string
	CollectionFormat string
}

// ComputeOptionSpec maps a parameter onto a CLI option. Arrays become
// repeatable options typed by their items; enum wins over type when
// validating.
func ComputeOptionSpec(p spec.Parameter) OptionSpec {
	opt := OptionSpec{
		Name:             p.Name,
		Flag:             FlagName(p.Name),
		In:               p.In,
		Required:         p.Required,
		Type:             mapType(p.Type),
		Enum:             stringify(p.Enum),
		Default:          p.Default,
		Description:      p.Description,
		CollectionFormat: p.CollectionFormat,
	}
	if p.Type != "array" {
		return opt
	}

	opt.Multiple = true
	if opt.CollectionFormat == "" {
		opt.CollectionFormat = "csv"
	}
	opt.Type = TypeString
	if p.Items != nil {
		opt.Type = mapType(p.Items.Type)
		if len(p.Items.Enum) > 0 {
			opt.Enum = stringify(p.Items.Enum)
		}
		if p.Items.Default != nil {
			opt.Default = p.Items.Default
		}
		if p.Items.Description != "" {
			opt.Description = p.Items.Description
		}
	}
	if opt.Default != nil {
		if _, ok := opt.Default.([]any); !ok {
			opt.Default = []any{opt.Default}
		}
	}
	return opt
}

// FlagName strips dots so the name is usable as a long flag. Names that only
// differ by dots collide.
func FlagName(name string) string {
	return strings.ReplaceAll(name, ".", "")
}

func mapType(t string) string {
	if t == "integer" {
		return TypeInt
	}
	return TypeString
}

func stringify(values []any) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, formatScalar(v))
	}
	return out
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(v)
	}
}

// ValidateValue checks a bound value against the option's enum. Lists are
// checked element by element.
func ValidateValue(opt OptionSpec, value any) error {
	if len(opt.Enum) == 0 || value == nil {
		return nil
	}
	var items []any
	switch t := value.(type) {
	case []any:
		items = t
	case []string:
		for _, s := range t {
			items = append(items, s)
		}
	case []int:
		for _, n := range t {
			items = append(items, n)
		}
	default:
		items = []any{value}
	}
	for _, item := range items {
		if !slices.Contains(opt.Enum, formatScalar(item)) {
			return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid value %q for --%s: must be one of %s", formatScalar(item), opt.Flag, strings.Join(opt.Enum, ", ")))
		}
	}
	return nil
}

type Binding struct {
	Name             string
	Value            any
	CollectionFormat string
}

// Slots maps a slot kind to its ordered bindings.
type Slots map[string][]Binding

// ComputeSlot registers p under its location with a nil placeholder. A name
// already present in that slot is left untouched.
func ComputeSlot(slots Slots, p spec.Parameter) Slots {
	if slots == nil {
		slots = Slots{}
	}
	kind := p.In
	for _, b := range slots[kind] {
		if b.Name == p.Name {
			return slots
		}
	}
	cf := p.CollectionFormat
	if p.Type == "array" && cf == "" {
		cf = "csv"
	}
	slots[kind] = append(slots[kind], Binding{Name: p.Name, CollectionFormat: cf})
	return slots
}

// Template builds the slot template for an operation's parameters.
func Template(params []spec.Parameter) Slots {
	slots := Slots{}
	for _, p := range params {
		slots = ComputeSlot(slots, p)
	}
	return slots
}

// Bind fills a copy of template from values, trying the exact name first and
// the lower-cased name second. Fallback hits are logged since they can hide
// collisions between names that differ only by case.
func Bind(template Slots, values map[string]any, logger *slog.Logger) Slots {
	out := make(Slots, len(template))
	for kind, bindings := range template {
		filled := make([]Binding, len(bindings))
		for i, b := range bindings {
			filled[i] = b
			filled[i].Value = nil
			if v, ok := values[b.Name]; ok {
				filled[i].Value = v
				continue
			}
			lower := strings.ToLower(b.Name)
			if v, ok := values[lower]; ok {
				if logger != nil {
					logger.Warn("parameter bound through lower-case fallback", "slot", kind, "name", b.Name, "key", lower)
				}
				filled[i].Value = v
			}
		}
		out[kind] = filled
	}
	return out
}

// Lookup returns the binding for name in kind.
func (s Slots) Lookup(kind, name string) (Binding, bool) {
	for _, b := range s[kind] {
		if b.Name == name {
			return b, true
		}
	}
	return Binding{}, false
}

// Values returns the non-nil values of a slot keyed by name.
func (s Slots) Values(kind string) map[string]any {
	out := map[string]any{}
	for _, b := range s[kind] {
		if b.Value != nil {
			out[b.Name] = b.Value
		}
	}
	return out
}

// Names lists every registered parameter name across all slots.
func (s Slots) Names() []string {
	var names []string
	for _, kind := range SlotKinds {
		for _, b := range s[kind] {
			names = append(names, b.Name)
		}
	}
	return names
}
