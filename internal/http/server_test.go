package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/quoted/internal/config"
	"github.com/fyrsmithlabs/quoted/internal/directory"
	"github.com/fyrsmithlabs/quoted/internal/extraction"
	"github.com/fyrsmithlabs/quoted/internal/fingerprint"
	"github.com/fyrsmithlabs/quoted/internal/intake"
	"github.com/fyrsmithlabs/quoted/internal/ledger"
	"github.com/fyrsmithlabs/quoted/internal/logging"
	"github.com/fyrsmithlabs/quoted/internal/resolver"
)

const hiluxText = "Please quote a Toyota Hilux from Antwerp to Lagos.\nRegards,\nKofi Mensah"

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type ingestResponse struct {
	Ref         string `json:"ref"`
	Duplicate   bool   `json:"duplicate"`
	ExistingRef string `json:"existing_ref"`
	Fingerprint struct {
		MessageID     string `json:"message_id"`
		ContentSHA256 string `json:"content_sha256"`
	} `json:"fingerprint"`
	Record *extraction.Record `json:"record"`
	Client *resolver.Match    `json:"client"`
}

type testServer struct {
	*Server
	store  *ledger.MemoryStore
	logger *logging.TestLogger
}

func setupTestServer(t *testing.T, withDirectory bool, cfg *Config) *testServer {
	t.Helper()
	p, err := extraction.NewPipeline(config.Default().Extraction, nil, nil, 0, nil)
	require.NoError(t, err)

	var res intake.Resolver
	if withDirectory {
		dir := directory.NewMemory(
			directory.Client{ID: "42", Name: "Carhanco", Email: "ops@carhanco.example"},
			directory.Client{ID: "7", Name: "Mensah Motors"},
		)
		r, err := resolver.New(config.Default().Resolver, dir, nil)
		require.NoError(t, err)
		res = r
	}

	store := ledger.NewMemoryStore()
	svc, err := intake.New(store, p, res, nil, nil)
	require.NoError(t, err)

	tl := logging.NewTestLogger()
	s, err := NewServer(svc, store, tl.Logger, cfg)
	require.NoError(t, err)
	return &testServer{Server: s, store: store, logger: tl}
}

func (s *testServer) do(t *testing.T, method, target, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func (s *testServer) postJSON(t *testing.T, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return s.do(t, http.MethodPost, target, echo.MIMEApplicationJSON, b)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewServer(t *testing.T) {
	p, err := extraction.NewPipeline(config.Default().Extraction, nil, nil, 0, nil)
	require.NoError(t, err)
	svc, err := intake.New(ledger.NewMemoryStore(), p, nil, nil, nil)
	require.NoError(t, err)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(svc, nil, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, 8440, s.config.Port)
		assert.Equal(t, int64(20<<20), s.config.MaxBodyBytes)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(svc, nil, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when intake is nil", func(t *testing.T) {
		_, err := NewServer(nil, nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "intake service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		s := setupTestServer(t, false, &Config{Version: "1.2.3"})
		rec := s.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "1.2.3", resp.Version)
		assert.Equal(t, "ok", resp.Services["ledger"])
	})

	t.Run("degraded when the ledger is down", func(t *testing.T) {
		s := setupTestServer(t, false, nil)
		s.ledger = failingPinger{}
		rec := s.do(t, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "unavailable", resp.Services["ledger"])
	})
}

func TestHandleIngest_JSON(t *testing.T) {
	s := setupTestServer(t, true, nil)

	rec := s.postJSON(t, "/api/v1/quotes", IngestRequest{Channel: "text", Text: hiluxText, Filename: "a.txt"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[ingestResponse](t, rec)
	assert.False(t, first.Duplicate)
	assert.NotEmpty(t, first.Ref)
	require.NotNil(t, first.Record)
	assert.Equal(t, "Toyota", first.Record.Vehicle.Brand)
	assert.Equal(t, "Antwerp", first.Record.Shipment.Origin)
	assert.Equal(t, "Lagos", first.Record.Shipment.Destination)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	t.Run("same content under another filename is a duplicate", func(t *testing.T) {
		rec := s.postJSON(t, "/api/v1/quotes", IngestRequest{Text: hiluxText, Filename: "b.txt"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		dup := decode[ingestResponse](t, rec)
		assert.True(t, dup.Duplicate)
		assert.Equal(t, first.Ref, dup.ExistingRef)
		assert.Nil(t, dup.Record)
	})

	t.Run("committed quote can be read back", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/v1/quotes/"+first.Ref, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		q := decode[intake.Quote](t, rec)
		assert.Equal(t, first.Ref, q.Ref)
		assert.Equal(t, "Hilux", q.Record.Vehicle.Model)
	})

	t.Run("base64 data with headers", func(t *testing.T) {
		rec := s.postJSON(t, "/api/v1/quotes", IngestRequest{
			Channel: "text",
			Data:    []byte("Ford Ranger from Hamburg to Mombasa"),
			Headers: map[string]string{"Message-ID": "<abc@example.com>"},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		out := decode[ingestResponse](t, rec)
		assert.Equal(t, "abc@example.com", out.Fingerprint.MessageID)
	})
}

func TestHandleIngest_RawBody(t *testing.T) {
	s := setupTestServer(t, true, nil)
	email := "From: Ops <ops@carhanco.example>\r\n" +
		"Subject: Quote\r\n" +
		"Message-ID: <raw-1@carhanco.example>\r\n" +
		"\r\n" +
		"Vehicle: BMW X5 from Antwerp to Cotonou.\r\n"

	rec := s.do(t, http.MethodPost, "/api/v1/quotes?filename=raw.eml", "message/rfc822", []byte(email))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decode[ingestResponse](t, rec)
	assert.Equal(t, "raw-1@carhanco.example", out.Fingerprint.MessageID)
	require.NotNil(t, out.Client)
	assert.True(t, out.Client.Matched)
	assert.Equal(t, "42", out.Client.ID)
	assert.Equal(t, resolver.MethodEmail, out.Client.Method)
}

func TestHandleIngest_Errors(t *testing.T) {
	s := setupTestServer(t, false, &Config{MaxBodyBytes: 64})

	tests := []struct {
		name        string
		contentType string
		body        string
		want        int
		wantErr     string
	}{
		{"empty json", echo.MIMEApplicationJSON, `{}`, http.StatusBadRequest, "empty input"},
		{"malformed json", echo.MIMEApplicationJSON, `{"text":`, http.StatusBadRequest, "invalid request body"},
		{"text and data", echo.MIMEApplicationJSON, `{"text":"a","data":"Yg=="}`, http.StatusBadRequest, "either text or data"},
		{"whitespace text", echo.MIMEApplicationJSON, `{"channel":"text","text":"   "}`, http.StatusBadRequest, "no content"},
		{"unknown channel", echo.MIMEApplicationJSON, `{"channel":"fax","text":"x"}`, http.StatusBadRequest, "unknown channel"},
		{"too large", "text/plain", strings.Repeat("x", 65), http.StatusRequestEntityTooLarge, "too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/quotes", tt.contentType, []byte(tt.body))
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, decode[ErrorResponse](t, rec).Error, tt.wantErr)
		})
	}

	_, found, err := s.store.Exists(context.Background(), fingerprint.FromRaw([]byte("   "), nil, "   "))
	require.NoError(t, err)
	assert.False(t, found, "rejected input never reaches the ledger")
}

func TestHandleGetQuote_NotFound(t *testing.T) {
	s := setupTestServer(t, false, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/quotes/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "quote not found", decode[ErrorResponse](t, rec).Error)
}

func TestHandleResolve(t *testing.T) {
	s := setupTestServer(t, true, nil)

	tests := []struct {
		name       string
		req        ResolveRequest
		wantCode   int
		wantID     string
		wantMethod resolver.Method
	}{
		{"by id", ResolveRequest{ID: "7"}, http.StatusOK, "7", resolver.MethodID},
		{"by email", ResolveRequest{Email: "OPS@carhanco.example"}, http.StatusOK, "42", resolver.MethodEmail},
		{"by name", ResolveRequest{Name: "Carhanco BV"}, http.StatusOK, "42", resolver.MethodName},
		{"no match", ResolveRequest{Name: "Unknown Shipping"}, http.StatusOK, "", ""},
		{"no hints", ResolveRequest{}, http.StatusBadRequest, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.postJSON(t, "/api/v1/resolve", tt.req)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode != http.StatusOK {
				return
			}
			m := decode[resolver.Match](t, rec)
			assert.Equal(t, tt.wantID, m.ID)
			assert.Equal(t, tt.wantMethod, m.Method)
			assert.Equal(t, tt.wantID != "", m.Matched)
		})
	}

	t.Run("no directory configured", func(t *testing.T) {
		bare := setupTestServer(t, false, nil)
		rec := bare.postJSON(t, "/api/v1/resolve", ResolveRequest{Name: "Carhanco"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRequestLogging(t *testing.T) {
	s := setupTestServer(t, false, nil)
	rec := s.do(t, http.MethodGet, "/api/v1/quotes/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	// The error is rendered exactly once.
	assert.JSONEq(t, `{"error":"quote not found"}`, rec.Body.String())

	s.logger.AssertLogged(t, zapcore.InfoLevel, "http request")
	s.logger.AssertField(t, "http request", "status", int64(http.StatusNotFound))
}

func TestMetricsEndpoint(t *testing.T) {
	s := setupTestServer(t, false, nil)
	rec := s.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
