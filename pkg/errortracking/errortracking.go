package errortracking

import (
	raven "github.com/getsentry/raven-go"
	"github.com/pkg/errors"
)

type Config struct {
	DSN         string `envconfig:"DSN"`
	Version     string `envconfig:"-"`
	Environment string `envconfig:"-"`
}

// Init sets up the raven client, does nothing if no DSN is configured.
func Init(config *Config) error {
	if config.DSN == "" {
		return nil
	}

	err := raven.SetDSN(config.DSN)
	if err != nil {
		return errors.Wrap(err, "unable to set raven DSN")
	}

	raven.SetRelease(config.Version)
	raven.SetEnvironment(config.Environment)

	return nil
}

// CaptureError reports an error with the given tags, if raven is set up.
func CaptureError(err error, tags map[string]string) {
	if raven.DefaultClient == nil {
		return
	}

	raven.CaptureError(err, tags)
}
