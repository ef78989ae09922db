package scheduler

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a node graph that cannot run: a bad node configuration, a topic type
// mismatch or a dependency cycle. It is detected while the graph is built and is fatal.
type ConfigurationError struct {
	Path string
	Err  error
}

// NewConfigurationError wraps err as a ConfigurationError at path.
func NewConfigurationError(path string, err error) error {
	if err == nil {
		return nil
	}
	return &ConfigurationError{Path: path, Err: err}
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %q: %v", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
