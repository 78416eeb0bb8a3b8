package logbus

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// core mirrors zap entries at or above a level onto the bus as log messages,
// so the dashboard sees what the server log sees.
type core struct {
	zapcore.LevelEnabler
	bus    *Bus
	fields []zapcore.Field
}

// Tee returns logger with a second core that publishes entries at or above
// min to b.
func Tee(logger *zap.Logger, b *Bus, min zapcore.Level) *zap.Logger {
	if b == nil {
		return logger
	}
	return logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, &core{LevelEnabler: min, bus: b})
	}))
}

func (c *core) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &core{LevelEnabler: c.LevelEnabler, bus: c.bus, fields: merged}
}

func (c *core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	var out map[string]any
	if len(enc.Fields) > 0 {
		out = enc.Fields
	}
	c.bus.Log(ent.Level.String(), ent.Message, out)
	return nil
}

func (c *core) Sync() error { return nil }
