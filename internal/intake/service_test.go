package intake

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/directory"
	"github.com/fyrsmithlabs/quoted/internal/events"
	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/ledger"
	"github.com/fyrsmithlabs/quoted/internal/resolver"
)

const bmwEmail = "From: Badr Algothami <badr@example.com>\r\n" +
	"Subject: Quote request\r\n" +
	"Message-ID: <q-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Vehicle: BMW Série 7, from Bruxelles to Djeddah.\r\n"

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error { return nil }

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

// countingExtractor counts pipeline runs.
type countingExtractor struct {
	Extractor
	runs atomic.Int32
}

func (c *countingExtractor) Run(ctx context.Context, doc extraction.Document) extraction.Record {
	c.runs.Add(1)
	return c.Extractor.Run(ctx, doc)
}

type fixture struct {
	svc   *Service
	store *ledger.MemoryStore
	ext   *countingExtractor
	pub   *recorder
}

func newFixture(t *testing.T, clients ...directory.Client) *fixture {
	t.Helper()
	p, err := extraction.NewPipeline(config.Default().Extraction, nil, nil, 0, nil)
	require.NoError(t, err)
	res, err := resolver.New(config.Default().Resolver, directory.NewMemory(clients...), nil)
	require.NoError(t, err)

	f := &fixture{store: ledger.NewMemoryStore(), ext: &countingExtractor{Extractor: p}, pub: &recorder{}}
	f.svc, err = New(f.store, f.ext, res, f.pub, nil)
	require.NoError(t, err)
	return f
}

func TestProcess_Email(t *testing.T) {
	f := newFixture(t, directory.Client{ID: "42", Name: "Algothami Trading", Email: "badr@example.com"})

	out, err := f.svc.Process(context.Background(), RawInput{Data: []byte(bmwEmail), Filename: "q1.eml"})
	require.NoError(t, err)

	assert.False(t, out.Duplicate)
	assert.NotEmpty(t, out.Ref)
	assert.Equal(t, "q-1@example.com", out.Fingerprint.MessageID)
	require.NotNil(t, out.Record)
	assert.Equal(t, "BMW", out.Record.Vehicle.Brand)
	assert.Equal(t, "Bruxelles", out.Record.Shipment.Origin)
	assert.Equal(t, "Djeddah", out.Record.Shipment.Destination)
	assert.Equal(t, "Badr Algothami", out.Record.Contact.Name)
	assert.Equal(t, "badr@example.com", out.Record.Contact.Email)

	require.NotNil(t, out.Client)
	assert.True(t, out.Client.Matched)
	assert.Equal(t, "42", out.Client.ID)
	assert.Equal(t, resolver.MethodEmail, out.Client.Method)

	q, err := f.svc.Get(context.Background(), out.Ref)
	require.NoError(t, err)
	assert.Equal(t, "BMW", q.Record.Vehicle.Brand)
	require.NotNil(t, q.Client)
	assert.Equal(t, "42", q.Client.ID)

	assert.Equal(t, []events.Kind{events.KindProcessed}, f.pub.kinds())
	assert.Equal(t, "42", f.pub.events[0].ClientID)
}

func TestProcess_DuplicateAcrossFilenames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := []byte("Please quote a Toyota Hilux from Antwerp to Lagos.\nRegards,\nKofi Mensah")

	first, err := f.svc.Process(ctx, RawInput{Data: body, Filename: "request.txt"})
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	second, err := f.svc.Process(ctx, RawInput{Data: body, Filename: "request-copy.txt"})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Ref, second.ExistingRef)
	assert.Nil(t, second.Record)
	assert.Empty(t, second.Ref)
	assert.Equal(t, int32(1), f.ext.runs.Load(), "pipeline skipped for the duplicate")
	assert.Equal(t, []events.Kind{events.KindProcessed, events.KindDuplicate}, f.pub.kinds())
}

func TestProcess_SameMessageIDDifferentBody(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Process(ctx, RawInput{Data: []byte(bmwEmail)})
	require.NoError(t, err)

	resent := []byte("Message-ID: <q-1@example.com>\r\nSubject: Fwd: Quote request\r\n\r\nSee below.\r\n")
	out, err := f.svc.Process(ctx, RawInput{Data: resent})
	require.NoError(t, err)
	assert.True(t, out.Duplicate)
}

func TestProcess_ImagesHashOnBytes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	png := []byte("\x89PNG\r\n\x1a\n-image-one")

	a, err := f.svc.Process(ctx, RawInput{Data: png, Filename: "a.png"})
	require.NoError(t, err)
	assert.False(t, a.Duplicate)
	// no analyzer configured
	assert.Contains(t, a.Record.Quality.Warnings, "all extraction strategies failed")
	assert.Nil(t, a.Client, "no hints, no resolution")

	b, err := f.svc.Process(ctx, RawInput{Data: []byte("\x89PNG\r\n\x1a\n-image-two"), Filename: "b.png"})
	require.NoError(t, err)
	assert.False(t, b.Duplicate)
	assert.NotEqual(t, a.Fingerprint.ContentSHA256, b.Fingerprint.ContentSHA256)
}

func TestProcess_TextFormWithFromLine(t *testing.T) {
	f := newFixture(t)

	out, err := f.svc.Process(context.Background(), RawInput{
		Data:    []byte("From: Antwerp\nTo: Lagos\nVehicle: Toyota Hilux 2018"),
		Channel: extraction.ChannelText,
	})
	require.NoError(t, err)
	require.NotNil(t, out.Record)

	assert.Empty(t, out.Fingerprint.MessageID)
	assert.Equal(t, "Toyota", out.Record.Vehicle.Brand)
	assert.Equal(t, "Antwerp", out.Record.Shipment.Origin)
	assert.Equal(t, "Lagos", out.Record.Shipment.Destination)
	assert.NotEqual(t, "Antwerp", out.Record.Contact.Name)
}

func TestProcess_InvalidInput(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   RawInput
	}{
		{"empty", RawInput{}},
		{"whitespace text", RawInput{Data: []byte(" \n\t "), Channel: extraction.ChannelText}},
		{"unknown channel", RawInput{Data: []byte("x"), Channel: "fax"}},
		{"invalid utf-8 text", RawInput{Data: []byte{0xff, 0xfe, 0x41}, Channel: extraction.ChannelText}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.svc.Process(context.Background(), tt.in)
			assert.Nil(t, out)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidInput))
			var ie *InputError
			assert.ErrorAs(t, err, &ie)
		})
	}
	assert.Zero(t, f.ext.runs.Load())
}

func TestProcess_ConcurrentIdenticalInputs(t *testing.T) {
	f := newFixture(t)
	body := []byte("Ford Ranger from Hamburg to Mombasa")

	const n = 8
	var wg sync.WaitGroup
	outs := make([]*Outcome, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := f.svc.Process(context.Background(), RawInput{Data: body, Channel: extraction.ChannelText})
			assert.NoError(t, err)
			outs[i] = out
		}()
	}
	wg.Wait()

	processed := 0
	var winner string
	for _, o := range outs {
		require.NotNil(t, o)
		if !o.Duplicate {
			processed++
			winner = o.Ref
		}
	}
	assert.Equal(t, 1, processed)
	for _, o := range outs {
		if o.Duplicate {
			assert.Equal(t, winner, o.ExistingRef)
		}
	}
}

func TestProcess_ClientIDHintWins(t *testing.T) {
	f := newFixture(t,
		directory.Client{ID: "42", Name: "Other", Email: "badr@example.com"},
		directory.Client{ID: "7", Name: "Known Account"},
	)

	out, err := f.svc.Process(context.Background(), RawInput{Data: []byte(bmwEmail), ClientID: "7"})
	require.NoError(t, err)
	require.NotNil(t, out.Client)
	assert.Equal(t, "7", out.Client.ID)
	assert.Equal(t, resolver.MethodID, out.Client.Method)
}

func TestProcess_PublishFailureIsAWarningOnly(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("nats down")

	out, err := f.svc.Process(context.Background(), RawInput{Data: []byte(bmwEmail)})
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestInferChannel(t *testing.T) {
	tests := []struct {
		mime, file string
		data       []byte
		want       extraction.Channel
	}{
		{"message/rfc822", "", nil, extraction.ChannelEmail},
		{"application/pdf", "", nil, extraction.ChannelPDF},
		{"image/png", "", nil, extraction.ChannelImage},
		{"text/plain; charset=utf-8", "", nil, extraction.ChannelText},
		{"", "scan.JPG", nil, extraction.ChannelImage},
		{"", "mail.eml", nil, extraction.ChannelEmail},
		{"", "", []byte("%PDF-1.7\n"), extraction.ChannelPDF},
		{"", "", []byte("hello"), extraction.ChannelText},
		{"", "", nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, InferChannel(tt.mime, tt.file, tt.data), "%s %s", tt.mime, tt.file)
	}
}

func TestChannelForFile(t *testing.T) {
	tests := []struct {
		file   string
		want   extraction.Channel
		wantOK bool
	}{
		{"request.eml", extraction.ChannelEmail, true},
		{"REQUEST.PDF", extraction.ChannelPDF, true},
		{"form.htm", extraction.ChannelText, true},
		// Outlook .msg is an OLE container, not RFC 5322.
		{"outlook.msg", "", false},
		{"notes", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, ok := ChannelForFile(tt.file)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrepare(t *testing.T) {
	fp, doc, err := Prepare(RawInput{Data: []byte(bmwEmail), Filename: "q1.eml"})
	require.NoError(t, err)
	assert.Equal(t, "q-1@example.com", fp.MessageID)
	assert.Equal(t, extraction.ChannelEmail, doc.Channel)
	assert.Equal(t, "Quote request", doc.Subject)
	assert.Contains(t, doc.Text, "BMW Série 7")

	// Same fingerprint Process commits under.
	f := newFixture(t)
	out, err := f.svc.Process(context.Background(), RawInput{Data: []byte(bmwEmail)})
	require.NoError(t, err)
	assert.Equal(t, out.Fingerprint, fp)

	_, _, err = Prepare(RawInput{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
