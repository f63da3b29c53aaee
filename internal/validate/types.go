// SPDX-License-Identifier: MIT
package validate

import (
	"errors"
	"fmt"
	"strings"
)

// LogLevels lists the levels accepted from configuration, most verbose first.
var LogLevels = []string{"trace", "debug", "info", "warn", "error"}

var ErrInvalidLogLevel = errors.New("invalid log level")

// ParseLogLevel normalizes s and checks it against LogLevels.
func ParseLogLevel(s string) (string, error) {
	level := strings.ToLower(strings.TrimSpace(s))
	for _, l := range LogLevels {
		if l == level {
			return level, nil
		}
	}
	return "", fmt.Errorf("%w %q (must be one of %s)", ErrInvalidLogLevel, s, strings.Join(LogLevels, ", "))
}
