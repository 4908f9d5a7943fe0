package logging

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func encodeEntry(t *testing.T, enc zapcore.Encoder, fields ...zap.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Time: time.Unix(0, 0), Message: "m"}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := newRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	tests := []struct {
		name    string
		field   zap.Field
		hidden  string
		visible string
	}{
		{"sensitive key", zap.String("api_key", "sk-123"), "sk-123", "[REDACTED]"},
		{"key case insensitive", zap.String("Authorization", "xyz"), "xyz", "[REDACTED]"},
		{"bearer pattern", zap.String("header", "Bearer abc.def"), "abc.def", "[REDACTED:pattern]"},
		{"plain value", zap.String("origin", "Bruxelles"), "", "Bruxelles"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := encodeEntry(t, enc.Clone(), tt.field)
			if tt.hidden != "" {
				assert.NotContains(t, out, tt.hidden)
			}
			assert.Contains(t, out, tt.visible)
		})
	}
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	base := newEncoder("json")
	enc, err := newRedactingEncoder(base, RedactionConfig{Enabled: false})
	require.NoError(t, err)
	assert.Same(t, base, enc)
}

func TestSecretField(t *testing.T) {
	f := Secret("dsn", config.Secret("postgres://u:p@h/db"))
	assert.Equal(t, "[REDACTED:19]", f.String)
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	tl := NewTestLogger()
	core := newSampledCore(tl.zap.Core(), SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 0})
	l := zap.New(core)

	for i := 0; i < 5; i++ {
		l.Info("repeat")
		l.Error("failure")
	}

	var infos, errs int
	for _, e := range tl.All() {
		switch e.Level {
		case zapcore.InfoLevel:
			infos++
		case zapcore.ErrorLevel:
			errs++
		}
	}
	assert.Equal(t, 1, infos)
	assert.Equal(t, 5, errs)
}

func TestSampledCore_AuditMessagesNeverSampled(t *testing.T) {
	tl := NewTestLogger()
	core := newSampledCore(tl.zap.Core(), SamplingConfig{
		Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 0,
		Audit: DefaultAuditMessages,
	})
	l := zap.New(core)

	for i := 0; i < 4; i++ {
		l.Info("quote processed", zap.Int("n", i))
		l.Info("duplicate input")
		l.Info("pattern matched")
	}

	counts := map[string]int{}
	for _, e := range tl.All() {
		counts[e.Message]++
	}
	assert.Equal(t, 4, counts["quote processed"])
	assert.Equal(t, 4, counts["duplicate input"])
	assert.Equal(t, 1, counts["pattern matched"])
}

func TestSampledCore_AuditKeepsFields(t *testing.T) {
	tl := NewTestLogger()
	core := newSampledCore(tl.zap.Core(), SamplingConfig{
		Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 0,
		Audit: []string{"quote processed"},
	})
	l := zap.New(core).With(zap.String("quote.ref", "q-7"))

	l.Info("quote processed")
	l.Info("quote processed")

	assert.Len(t, tl.ForQuote("q-7"), 2)
}
