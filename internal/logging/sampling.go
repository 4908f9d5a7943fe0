package logging

import (
	"go.uber.org/zap/zapcore"
)

// DefaultAuditMessages are the per-quote outcome entries. Every processed
// or duplicate input leaves exactly one of them, so they bypass sampling.
var DefaultAuditMessages = []string{
	"quote processed",
	"duplicate input",
	"lost ledger race, input is a duplicate",
	"ingested inbox file",
	"duplicate inbox file",
	"rejected inbox file",
}

// newSampledCore samples entries below Error, except audit messages.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	audit := make(map[string]bool, len(cfg.Audit))
	for _, m := range cfg.Audit {
		audit[m] = true
	}
	always := func(e zapcore.Entry) bool { return e.Level >= zapcore.ErrorLevel || audit[e.Message] }

	kept := &entryFilterCore{Core: core, keep: always}
	rest := &entryFilterCore{Core: core, keep: func(e zapcore.Entry) bool { return !always(e) }}

	sampled := zapcore.NewSamplerWithOptions(rest, cfg.Tick, cfg.Initial, cfg.Thereafter)
	return zapcore.NewTee(kept, sampled)
}

// entryFilterCore routes entries by level and message. Enabled only sees
// the level, so the message test happens in Check.
type entryFilterCore struct {
	zapcore.Core
	keep func(zapcore.Entry) bool
}

func (c *entryFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.keep(e) || !c.Core.Enabled(e.Level) {
		return ce
	}
	return ce.AddCore(e, c)
}

func (c *entryFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &entryFilterCore{Core: c.Core.With(fields), keep: c.keep}
}
