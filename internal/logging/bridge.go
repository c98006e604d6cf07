package logging

import (
	"context"
	"log/slog"

	otellog "go.opentelemetry.io/otel/log"
)

// bridge converts slog records into OTel log records.
type bridge struct {
	logger otellog.Logger
	attrs  []otellog.KeyValue
	prefix string
}

func (b *bridge) withAttrs(attrs []slog.Attr) *bridge {
	if b == nil {
		return nil
	}
	nb := &bridge{logger: b.logger, prefix: b.prefix}
	nb.attrs = append(append([]otellog.KeyValue{}, b.attrs...), convertAttrs(b.prefix, attrs)...)
	return nb
}

func (b *bridge) withGroup(name string) *bridge {
	if b == nil || name == "" {
		return b
	}
	return &bridge{logger: b.logger, attrs: b.attrs, prefix: b.prefix + name + "."}
}

func (b *bridge) emit(ctx context.Context, r slog.Record) {
	var rec otellog.Record
	rec.SetTimestamp(r.Time)
	rec.SetSeverity(severity(r.Level))
	rec.SetSeverityText(r.Level.String())
	rec.SetBody(otellog.StringValue(r.Message))
	rec.AddAttributes(b.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		rec.AddAttributes(convertAttrs(b.prefix, []slog.Attr{a})...)
		return true
	})
	b.logger.Emit(ctx, rec)
}

func severity(l slog.Level) otellog.Severity {
	switch {
	case l >= slog.LevelError:
		return otellog.SeverityError
	case l >= slog.LevelWarn:
		return otellog.SeverityWarn
	case l >= slog.LevelInfo:
		return otellog.SeverityInfo
	default:
		return otellog.SeverityDebug
	}
}

func convertAttrs(prefix string, attrs []slog.Attr) []otellog.KeyValue {
	out := make([]otellog.KeyValue, 0, len(attrs))
	for _, a := range attrs {
		v := a.Value.Resolve()
		key := prefix + a.Key
		switch v.Kind() {
		case slog.KindGroup:
			out = append(out, convertAttrs(key+".", v.Group())...)
		case slog.KindInt64:
			out = append(out, otellog.Int64(key, v.Int64()))
		case slog.KindUint64:
			out = append(out, otellog.Int64(key, int64(v.Uint64())))
		case slog.KindFloat64:
			out = append(out, otellog.Float64(key, v.Float64()))
		case slog.KindBool:
			out = append(out, otellog.Bool(key, v.Bool()))
		default:
			out = append(out, otellog.String(key, v.String()))
		}
	}
	return out
}
