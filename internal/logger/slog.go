package logger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/rs/zerolog"
)

// slogBridge adapts a zerolog logger to the slog.Handler contract. Group
// names are flattened into dotted key prefixes so the output stays a single
// JSON object per line.
type slogBridge struct {
	root   *zerolog.Logger
	fields []slog.Attr // pre-qualified by the group prefix active at WithAttrs time
	groups []string
}

// NewSlog wraps zl in a *slog.Logger sharing its level and output.
func NewSlog(zl *zerolog.Logger) *slog.Logger {
	return slog.New(&slogBridge{root: zl})
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	min := b.root.GetLevel()
	if g := zerolog.GlobalLevel(); g > min {
		min = g
	}
	return toZerolog(level) >= min
}

func (b *slogBridge) Handle(ctx context.Context, rec slog.Record) error {
	ev := FromContext(ctx, b.root).WithLevel(toZerolog(rec.Level))
	for _, a := range b.fields {
		appendAttr(ev, "", a)
	}
	prefix := b.prefix()
	rec.Attrs(func(a slog.Attr) bool {
		appendAttr(ev, prefix, a)
		return true
	})
	ev.Msg(rec.Message)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return b
	}
	cp := b.clone()
	prefix := cp.prefix()
	for _, a := range attrs {
		cp.fields = append(cp.fields, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return cp
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	cp := b.clone()
	cp.groups = append(cp.groups, name)
	return cp
}

func (b *slogBridge) clone() *slogBridge {
	return &slogBridge{
		root:   b.root,
		fields: append([]slog.Attr(nil), b.fields...),
		groups: append([]string(nil), b.groups...),
	}
}

func (b *slogBridge) prefix() string {
	if len(b.groups) == 0 {
		return ""
	}
	return strings.Join(b.groups, ".") + "."
}

func toZerolog(level slog.Level) zerolog.Level {
	switch {
	case level < slog.LevelInfo:
		return zerolog.DebugLevel
	case level < slog.LevelWarn:
		return zerolog.InfoLevel
	case level < slog.LevelError:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func appendAttr(ev *zerolog.Event, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if a.Key == "" && v.Kind() != slog.KindGroup {
		return
	}
	key := prefix + a.Key
	switch v.Kind() {
	case slog.KindString:
		ev.Str(key, v.String())
	case slog.KindInt64:
		ev.Int64(key, v.Int64())
	case slog.KindUint64:
		ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		ev.Float64(key, v.Float64())
	case slog.KindBool:
		ev.Bool(key, v.Bool())
	case slog.KindDuration:
		ev.Dur(key, v.Duration())
	case slog.KindTime:
		ev.Time(key, v.Time())
	case slog.KindGroup:
		inner := prefix
		if a.Key != "" {
			inner = key + "."
		}
		for _, ga := range v.Group() {
			appendAttr(ev, inner, ga)
		}
	default:
		ev.Interface(key, v.Any())
	}
}
