// Package plugins provides the optional hooks enabled through the plugins
// section of the config file.
package plugins

import (
	"errors"
	"io"
	"log/slog"

	"github.com/ggonzalez94/swagcli/internal/config"
	"github.com/ggonzalez94/swagcli/internal/hooks"
	"github.com/ggonzalez94/swagcli/internal/logging"
)

// Install registers every enabled plugin on reg. The returned closer releases
// files held by the plugins and is safe to call when nothing was installed.
func Install(reg *hooks.Registry, settings config.PluginSettings, logger *slog.Logger) (io.Closer, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	var held closers
	if settings.RateLimiter.Enabled {
		NewRateLimiter(settings.RateLimiter.RPS, settings.RateLimiter.Burst).Register(reg)
	}
	if settings.FileUpload.Enabled {
		RegisterUpload(reg)
	}
	if settings.Validator.Enabled {
		v, err := LoadValidator(settings.Validator.SchemaDir)
		if err != nil {
			return held, err
		}
		logger.Debug("validator schemas loaded", "dir", settings.Validator.SchemaDir, "count", len(v.Names()))
		v.Register(reg)
	}
	if settings.RequestLogger.Enabled {
		l, err := OpenRequestLogger(settings.RequestLogger.Path)
		if err != nil {
			return held, err
		}
		l.Register(reg)
		held = append(held, l)
	}
	return held, nil
}

type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for _, closer := range c {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
