package policy

import (
	"fmt"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/swagcli/internal/errors"
)

func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range allowlist {
		if normalize(allowed) == normPath {
			return nil
		}
	}
	return clierr.New(clierr.CodeBlocked, "command blocked by --enable-commands policy")
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}

// PathFilter compiles include and exclude patterns into a predicate over
// "path/method" keys. With no include patterns every key is included;
// exclusion wins over inclusion.
func PathFilter(include, exclude []string) (func(string) bool, error) {
	inc, err := compileAll(include)
	if err != nil {
		return nil, err
	}
	exc, err := compileAll(exclude)
	if err != nil {
		return nil, err
	}
	if len(inc) == 0 && len(exc) == 0 {
		return nil, nil
	}
	return func(key string) bool {
		for _, re := range exc {
			if re.MatchString(key) {
				return false
			}
		}
		if len(inc) == 0 {
			return true
		}
		for _, re := range inc {
			if re.MatchString(key) {
				return true
			}
		}
		return false
	}, nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("invalid path pattern %q", p), err)
		}
		out = append(out, re)
	}
	return out, nil
}
