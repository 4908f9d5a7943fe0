package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/quoted/internal/config"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	t.Helper()
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}
	srv, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(func() {
		srv.Shutdown()
		srv.WaitForShutdown()
	})
	return srv
}

func TestNATS_Publish(t *testing.T) {
	srv := startTestNATSServer(t)

	sub, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 4)
	_, err = sub.ChanSubscribe("quotes.>", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := New(config.EventsConfig{Enabled: true, URL: srv.ClientURL(), SubjectPrefix: "quotes"}, nil)
	require.NoError(t, err)
	defer pub.Close()

	ctx := context.Background()
	require.NoError(t, pub.Publish(ctx, Event{Kind: KindProcessed, Ref: "r1", Channel: "email", ContentSHA256: "abc", Quality: 0.75}))
	require.NoError(t, pub.Publish(ctx, Event{Kind: KindDuplicate, ExistingRef: "r1", Channel: "email", ContentSHA256: "abc"}))

	tests := []struct {
		subject string
		check   func(t *testing.T, e Event)
	}{
		{"quotes.processed", func(t *testing.T, e Event) {
			assert.Equal(t, "r1", e.Ref)
			assert.Equal(t, 0.75, e.Quality)
			assert.False(t, e.Timestamp.IsZero())
		}},
		{"quotes.duplicate", func(t *testing.T, e Event) {
			assert.Equal(t, "r1", e.ExistingRef)
			assert.Empty(t, e.Ref)
		}},
	}
	for _, tt := range tests {
		select {
		case m := <-msgs:
			assert.Equal(t, tt.subject, m.Subject)
			var e Event
			require.NoError(t, json.Unmarshal(m.Data, &e))
			tt.check(t, e)
		case <-time.After(5 * time.Second):
			t.Fatalf("no message on %s", tt.subject)
		}
	}
}

func TestNATS_Subject(t *testing.T) {
	p := NewNATS(nil, "", nil)
	assert.Equal(t, "quotes.duplicate", p.Subject(KindDuplicate))
}

func TestNew_Disabled(t *testing.T) {
	p, err := New(config.EventsConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, NoOp{}, p)
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
