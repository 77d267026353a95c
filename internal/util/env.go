package util

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

func GetEnv(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}

	return defaultVal
}

func GetEnvAsInt(key string, defaultVal int) int {
	strVal := GetEnv(key, "")

	if val, err := strconv.Atoi(strVal); err == nil {
		return val
	}

	return defaultVal
}

func GetEnvAsUint64(key string, defaultVal uint64) uint64 {
	strVal := GetEnv(key, "")

	if val, err := strconv.ParseUint(strVal, 10, 64); err == nil {
		return val
	}

	return defaultVal
}

func GetEnvAsInt64(key string, defaultVal int64) int64 {
	strVal := GetEnv(key, "")

	if val, err := strconv.ParseInt(strVal, 10, 64); err == nil {
		return val
	}

	return defaultVal
}

func GetEnvAsBool(key string, defaultVal bool) bool {
	strVal := GetEnv(key, "")

	if val, err := strconv.ParseBool(strVal); err == nil {
		return val
	}

	return defaultVal
}

// GetEnvAsDuration accepts Go duration strings ("1500ms", "3s") and plain milliseconds.
func GetEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	strVal := strings.TrimSpace(GetEnv(key, ""))
	if strVal == "" {
		return defaultVal
	}

	if val, err := time.ParseDuration(strVal); err == nil {
		return val
	}

	if ms, err := strconv.ParseInt(strVal, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	log.Warn().Str("key", key).Str("value", strVal).Msg("Failed to parse duration from env, using default")

	return defaultVal
}

// GetEnvAsStringArr splits the value by separator (default ",") and drops empty entries.
func GetEnvAsStringArr(key string, defaultVal []string, separator ...string) []string {
	strVal := GetEnv(key, "")

	if len(strVal) == 0 {
		return defaultVal
	}

	sep := ","
	if len(separator) >= 1 {
		sep = separator[0]
	}

	parts := strings.Split(strVal, sep)
	res := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}

	if len(res) == 0 {
		return defaultVal
	}

	return res
}

// GetEnvEnum returns the value only if it is one of allowedValues.
func GetEnvEnum(key string, defaultVal string, allowedValues []string) string {
	strVal := GetEnv(key, defaultVal)

	for _, allowed := range allowedValues {
		if strVal == allowed {
			return strVal
		}
	}

	log.Panic().Str("key", key).Str("value", strVal).Strs("allowed", allowedValues).Msg("Invalid value for env enum")

	return defaultVal
}
