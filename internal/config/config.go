// Package config reads service configuration from the environment.
// Every service builds its own Config struct in main from these helpers.
package config

import (
	"os"
	"strconv"
	"time"
)

// String returns the value of key, or fallback when unset or empty.
func String(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// Int returns the integer value of key, or fallback when unset or invalid.
func Int(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

// Float returns the float value of key, or fallback when unset or invalid.
func Float(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return f
}

// Bool returns the boolean value of key, or fallback when unset or invalid.
func Bool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return b
}

// Seconds reads key as a number of seconds and returns it as a duration.
func Seconds(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(n * float64(time.Second))
}
