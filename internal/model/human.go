// human readable and writable stdlib types
// which can be used inside config file
package model

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Duration is a time.Duration written as "5s" or "1m30s".
type Duration time.Duration

func (d Duration) AsDuration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalText(text []byte) error {
	if d == nil {
		return errors.New("can't unmarshal to nil")
	}
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Path is a filesystem path, environment variables and a leading ~/ are expanded.
type Path string

func (p Path) String() string {
	return string(p)
}

func (p *Path) UnmarshalText(text []byte) error {
	if p == nil {
		return errors.New("can't unmarshal to nil")
	}
	expanded := os.ExpandEnv(string(text))
	if rest, ok := strings.CutPrefix(expanded, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		expanded = filepath.Join(home, rest)
	}
	*p = Path(expanded)
	return nil
}

func (p Path) MarshalText() ([]byte, error) {
	return []byte(p), nil
}
