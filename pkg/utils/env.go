package utils

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads .env and then .env.<mode> when it exists. Values already
// present in the process environment win.
func LoadEnv(mode string) error {
	files := []string{}
	if mode != "" {
		name := ".env." + strings.ToLower(mode)
		if _, err := os.Stat(name); err == nil {
			files = append(files, name)
		}
	}
	if _, err := os.Stat(".env"); err == nil {
		files = append(files, ".env")
	}
	if len(files) == 0 {
		return fmt.Errorf("no env file for mode %q", mode)
	}
	return godotenv.Load(files...)
}

// GetEnv returns the raw value of key, trimmed.
func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func GetStringOrDefault(key, defaultValue string) string {
	if v := GetEnv(key); v != "" {
		return v
	}
	return defaultValue
}

// GetIntEnv returns 0 for missing or malformed values.
func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

func GetIntOrDefault(key string, defaultValue int) int {
	v := GetEnv(key)
	if v == "" {
		return defaultValue
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func GetBoolOrDefault(key string, defaultValue bool) bool {
	v := GetEnv(key)
	if v == "" {
		return defaultValue
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// GetDurationOrDefault accepts Go duration strings ("1500ms", "2s") and bare
// integers, which are read as seconds. Non-positive values fall back to the
// default.
func GetDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	v := GetEnv(key)
	if v == "" {
		return defaultValue
	}
	if n, err := cast.ToInt64E(v); err == nil {
		if n <= 0 {
			return defaultValue
		}
		return time.Duration(n) * time.Second
	}
	d, err := cast.ToDurationE(v)
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

// GetStringSliceOrDefault splits a comma separated value.
func GetStringSliceOrDefault(key string, defaultValue []string) []string {
	v := GetEnv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
