// Package logger builds the zerolog root logger shared by every binary and
// bridges it into log/slog for packages written against *slog.Logger.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the root logger of one process.
type Config struct {
	Level     string // debug, info, warn or error; anything else means info
	Console   bool   // human-readable output instead of JSON lines
	SampleN   int    // keep every Nth debug line; <=1 disables sampling
	Service   string // stamped on every line: api, worker, loadgen
	Component string // optional sub-component stamp
}

// Build constructs the process root logger. The level is carried by the
// logger itself rather than the zerolog global, so tests and sub-loggers can
// diverge from the binary's setting. Sampling throttles debug lines only;
// info and above always pass.
func Build(cfg Config, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFieldName = "timestamp"
	zerolog.MessageFieldName = "msg"

	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	root := zerolog.New(out).Level(lvl)
	if cfg.SampleN > 1 {
		root = root.Sample(zerolog.LevelSampler{
			DebugSampler: &zerolog.BasicSampler{N: sampleEvery(cfg.SampleN)},
		})
	}

	with := root.With().Timestamp()
	if cfg.Service != "" {
		with = with.Str("service", cfg.Service)
	}
	if cfg.Component != "" {
		with = with.Str("component", cfg.Component)
	}
	return with.Logger()
}

func sampleEvery(n int) uint32 {
	if int64(n) > int64(math.MaxUint32) {
		return math.MaxUint32
	}
	return uint32(n)
}

// NewID returns a short random id for request correlation.
func NewID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

type reqIDKey struct{}

type componentKey struct{}

// WithRequestID tags ctx with a request id, minting one when id is empty.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewID()
	}
	return context.WithValue(ctx, reqIDKey{}, id)
}

// WithComponent tags ctx with the component handling the request.
func WithComponent(ctx context.Context, component string) context.Context {
	if component == "" {
		return ctx
	}
	return context.WithValue(ctx, componentKey{}, component)
}

// FromContext derives a child of parent carrying the request-scoped fields
// stored in ctx. A nil parent yields a silent logger.
func FromContext(ctx context.Context, parent *zerolog.Logger) *zerolog.Logger {
	base := zerolog.New(io.Discard)
	if parent != nil {
		base = *parent
	}
	with := base.With()
	if id, ok := ctx.Value(reqIDKey{}).(string); ok && id != "" {
		with = with.Str("request_id", id)
	}
	if c, ok := ctx.Value(componentKey{}).(string); ok && c != "" {
		with = with.Str("component", c)
	}
	child := with.Logger()
	return &child
}
