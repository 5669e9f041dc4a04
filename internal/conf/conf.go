// Package conf resolves adapter configuration with a fixed precedence:
// explicit per-call overrides, then process environment, then compiled
// defaults. Resolution is pure: no network access and no retained state
// between calls.
package conf

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/capra-ai/capra/fault"
	"github.com/capra-ai/capra/internal/platform/logger"
)

var loadDotenv sync.Once

// Resolver is the shared entry point for configuration lookups. It is cheap
// to construct and safe for concurrent use.
type Resolver struct {
	v        *viper.Viper
	validate *validator.Validate
}

// NewResolver loads .env once per process and binds the environment.
func NewResolver() *Resolver {
	loadDotenv.Do(func() { _ = godotenv.Load() })
	v := viper.New()
	v.AutomaticEnv()
	return &Resolver{v: v, validate: validator.New()}
}

// View builds a resolved view over a closed key set. Override keys outside
// the set are ignored silently.
func (r *Resolver) View(keys []string, overrides map[string]string) Values {
	known := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		known[k] = struct{}{}
	}
	return Values{r: r, known: known, overrides: overrides}
}

// Values is one resolved view. All getters fall back to the supplied
// default when the key is unset or malformed; a malformed value is logged
// at debug level and never fails the call.
type Values struct {
	r         *Resolver
	known     map[string]struct{}
	overrides map[string]string
}

func (v Values) lookup(key string) (string, bool) {
	if _, ok := v.known[key]; !ok {
		return "", false
	}
	if raw, ok := v.overrides[key]; ok {
		return raw, true
	}
	if raw := v.r.v.GetString(key); raw != "" {
		return raw, true
	}
	return "", false
}

func (v Values) String(key, def string) string {
	if raw, ok := v.lookup(key); ok {
		return raw
	}
	return def
}

func (v Values) Int(key string, def int) int {
	raw, ok := v.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		logger.Debug("conf: malformed integer, using default",
			zap.String("key", key), zap.String("value", raw))
		return def
	}
	return n
}

func (v Values) Int64(key string, def int64) int64 {
	raw, ok := v.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		logger.Debug("conf: malformed integer, using default",
			zap.String("key", key), zap.String("value", raw))
		return def
	}
	return n
}

func (v Values) Float(key string, def float64) float64 {
	raw, ok := v.lookup(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		logger.Debug("conf: malformed float, using default",
			zap.String("key", key), zap.String("value", raw))
		return def
	}
	return f
}

func (v Values) Bool(key string, def bool) bool {
	raw, ok := v.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		logger.Debug("conf: malformed boolean, using default",
			zap.String("key", key), zap.String("value", raw))
		return def
	}
	return b
}

// Duration accepts either a Go duration string ("30s") or a bare integer
// interpreted as seconds.
func (v Values) Duration(key string, def time.Duration) time.Duration {
	raw, ok := v.lookup(key)
	if !ok {
		return def
	}
	raw = strings.TrimSpace(raw)
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	logger.Debug("conf: malformed duration, using default",
		zap.String("key", key), zap.String("value", raw))
	return def
}

// Millis reads an integer number of milliseconds.
func (v Values) Millis(key string, def time.Duration) time.Duration {
	ms := v.Int64(key, int64(def/time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// Secret returns the named credential, failing with Unauthorized naming
// the missing key so the caller can surface it before any external call.
func (v Values) Secret(key string) (string, error) {
	if raw, ok := v.lookup(key); ok && raw != "" {
		return raw, nil
	}
	return "", fault.Unauthorized("missing credential %s", key)
}

// check runs the eager validation pass over a resolved settings struct and
// converts validator output into a Validation fault.
func (r *Resolver) check(settings any) error {
	err := r.validate.Struct(settings)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fault.Promote(err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" failed "+fe.Tag())
	}
	return fault.Validation(strings.Join(parts, "; "))
}
