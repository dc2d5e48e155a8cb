// Package sanitize cleans run inputs before they reach the blackboard.
package sanitize

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	// DefaultMaxInputSize bounds a single string value of a run input (64KB).
	DefaultMaxInputSize = 64 << 10
	// EnvMaxInputSize overrides DefaultMaxInputSize.
	EnvMaxInputSize = "FORGE_MAX_INPUT_SIZE"
)

var (
	ErrInputTooLarge = errors.New("input exceeds maximum allowed size")
	ErrInvalidUTF8   = errors.New("input contains invalid UTF-8 sequences")
)

// String enforces the size limit, validates UTF-8 and strips control
// characters other than newline, tab and carriage return.
func String(s string) (string, error) {
	limit := MaxInputSize()
	if len(s) > limit {
		return "", fmt.Errorf("%w: size=%d limit=%d", ErrInputTooLarge, len(s), limit)
	}
	if !utf8.ValidString(s) {
		return "", ErrInvalidUTF8
	}

	clean := true
	for _, r := range s {
		if unsafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unsafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String(), nil
}

// Input returns a cleaned deep copy of a decoded JSON object. Keys and
// string leaves go through String; the first failure names its path.
func Input(in map[string]any) (map[string]any, error) {
	out, err := value(in, "")
	if err != nil {
		return nil, err
	}
	if out == nil {
		return map[string]any{}, nil
	}
	return out.(map[string]any), nil
}

func value(v any, path string) (any, error) {
	switch t := v.(type) {
	case string:
		s, err := String(t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", where(path), err)
		}
		return s, nil
	case map[string]any:
		if t == nil {
			return nil, nil
		}
		out := make(map[string]any, len(t))
		for k, item := range t {
			key, err := String(k)
			if err != nil {
				return nil, fmt.Errorf("key in %s: %w", where(path), err)
			}
			cleaned, err := value(item, join(path, key))
			if err != nil {
				return nil, err
			}
			out[key] = cleaned
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			cleaned, err := value(item, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = cleaned
		}
		return out, nil
	default:
		return v, nil
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func where(path string) string {
	if path == "" {
		return "input"
	}
	return path
}

func unsafeControl(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
}

// MaxInputSize reports the active per-string limit.
func MaxInputSize() int {
	if val := os.Getenv(EnvMaxInputSize); val != "" {
		if size, err := strconv.Atoi(val); err == nil && size > 0 {
			return size
		}
	}
	return DefaultMaxInputSize
}
