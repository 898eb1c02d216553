package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var ErrMissingRequiredValue = errors.New("missing required value")
var ErrInvalidValue = errors.New("invalid value")

type environment string

const (
	production  environment = "production"
	staging     environment = "staging"
	development environment = "development"
)

type Config struct {
	port                  string
	sentryDSN             string
	allowedOriginSuffixes []string
	maxImageDimension     int
	fetchTimeout          time.Duration
	env                   environment
}

func (c *Config) Port() string {
	return c.port
}

func (c *Config) SentryDSN() string {
	return c.sentryDSN
}

func (c *Config) AllowedOriginSuffixes() []string {
	return c.allowedOriginSuffixes
}

func (c *Config) MaxImageDimension() int {
	return c.maxImageDimension
}

func (c *Config) FetchTimeout() time.Duration {
	return c.fetchTimeout
}

func (c *Config) IsProduction() bool {
	return c.env == production
}

func (c *Config) IsStaging() bool {
	return c.env == staging
}

func (c *Config) IsDevelopment() bool {
	return c.env == development
}

// Return a string representation suitable for logging etc
func (c *Config) NonSensitiveString() string {
	return fmt.Sprintf(
		"Config{env: %s, port: %s, maxImageDimension: %d, fetchTimeout: %s, allowedOriginSuffixes: %v, ...}",
		string(c.env), c.port, c.maxImageDimension, c.fetchTimeout, c.allowedOriginSuffixes,
	)
}

func ConfigFromEnv() (Config, error) {
	missingKey := func(key string) (Config, error) {
		return Config{}, fmt.Errorf("%w: %s", ErrMissingRequiredValue, key)
	}

	var env environment
	rawEnv, ok := os.LookupEnv("ASSETCACHE_ENVIRONMENT")
	if !ok {
		return missingKey("ASSETCACHE_ENVIRONMENT")
	}
	switch rawEnv {
	case "production":
		env = production
	case "staging":
		env = staging
	case "development":
		env = development
	default:
		return Config{}, fmt.Errorf("%w: ASSETCACHE_ENVIRONMENT (%s)", ErrInvalidValue, rawEnv)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	sentryDSN := os.Getenv("SENTRY_DSN")

	var allowedOriginSuffixes []string
	for suffix := range strings.SplitSeq(os.Getenv("ASSETCACHE_ALLOWED_ORIGIN_SUFFIXES"), ",") {
		suffix = strings.TrimSpace(suffix)
		if suffix != "" {
			allowedOriginSuffixes = append(allowedOriginSuffixes, suffix)
		}
	}

	maxImageDimension := 0
	if rawDimension := os.Getenv("ASSETCACHE_MAX_IMAGE_DIMENSION"); rawDimension != "" {
		parsed, err := strconv.Atoi(rawDimension)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("%w: ASSETCACHE_MAX_IMAGE_DIMENSION (%s)", ErrInvalidValue, rawDimension)
		}
		maxImageDimension = parsed
	}

	var fetchTimeout time.Duration
	if rawTimeout := os.Getenv("ASSETCACHE_FETCH_TIMEOUT"); rawTimeout != "" {
		parsed, err := time.ParseDuration(rawTimeout)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("%w: ASSETCACHE_FETCH_TIMEOUT (%s)", ErrInvalidValue, rawTimeout)
		}
		fetchTimeout = parsed
	}

	if env == production || env == staging {
		if sentryDSN == "" {
			return missingKey("SENTRY_DSN")
		}
		if len(allowedOriginSuffixes) == 0 {
			return missingKey("ASSETCACHE_ALLOWED_ORIGIN_SUFFIXES")
		}
	}

	return Config{
		port:                  port,
		sentryDSN:             sentryDSN,
		allowedOriginSuffixes: allowedOriginSuffixes,
		maxImageDimension:     maxImageDimension,
		fetchTimeout:          fetchTimeout,
		env:                   env,
	}, nil
}
