package shared

import (
	"fmt"
	"os"
)

// Version of the module, stamped into logs by the example agents.
const Version = "0.1.0"

// GetenvParser converts a raw environment value into T.
type GetenvParser[T any] func(raw string) (T, error)

func GetenvString(raw string) (string, error) {
	return raw, nil
}

// Getenv reads key, parses it with parse, and falls back when unset or
// empty. With required true an unset key is an error.
func Getenv[T any](parse GetenvParser[T], key string, required bool, fallback T) (T, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		if required {
			var zero T
			return zero, fmt.Errorf("required environment variable %s is not set", key)
		}
		return fallback, nil
	}
	return parse(raw)
}

// MustGetenv is Getenv that panics on error. Intended for program
// startup only.
func MustGetenv[T any](parse GetenvParser[T], key string, required bool, fallback T) T {
	v, err := Getenv(parse, key, required, fallback)
	if err != nil {
		panic(err)
	}
	return v
}
