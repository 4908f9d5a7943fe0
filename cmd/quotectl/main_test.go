package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleEmail = "From: Kofi Mensah <kofi@mensah.example>\r\n" +
	"Subject: Quote\r\n" +
	"Message-ID: <m-1@mensah.example>\r\n" +
	"\r\n" +
	"Please quote a Toyota Hilux from Antwerp to Lagos.\r\n"

// execute runs quotectl with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type captured struct {
	method, path, contentType string
	query                     map[string]string
	body                      []byte
}

func fakeServer(t *testing.T, status int, resp string) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{query: map[string]string{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method, got.path = r.Method, r.URL.Path
		got.contentType = r.Header.Get("Content-Type")
		for k := range r.URL.Query() {
			got.query[k] = r.URL.Query().Get(k)
		}
		got.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestSubmit(t *testing.T) {
	srv, got := fakeServer(t, http.StatusCreated, `{"ref":"r-1","duplicate":false}`)
	path := writeFile(t, "request.eml", sampleEmail)

	out, err := execute(t, "--server", srv.URL, "submit", "--client-id", "7", path)
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/v1/quotes", got.path)
	assert.Equal(t, "message/rfc822", got.contentType)
	assert.Equal(t, "request.eml", got.query["filename"])
	assert.Equal(t, "7", got.query["client_id"])
	assert.NotContains(t, got.query, "channel")
	assert.Equal(t, sampleEmail, string(got.body))

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "r-1", resp["ref"])
}

func TestSubmit_DuplicateIsSuccess(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusOK, `{"duplicate":true,"existing_ref":"r-1"}`)
	path := writeFile(t, "copy.txt", "Toyota Hilux from Antwerp to Lagos")

	out, err := execute(t, "--server", srv.URL, "submit", path)
	require.NoError(t, err)
	assert.Contains(t, out, `"existing_ref": "r-1"`)
}

func TestSubmit_Errors(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusBadRequest, `{"error":"no content"}`)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing file", []string{"submit", filepath.Join(t.TempDir(), "nope.eml")}, "failed to read file"},
		{"empty file", []string{"submit", writeFile(t, "empty.txt", "")}, "no content to submit"},
		{"server rejects", []string{"submit", writeFile(t, "x.txt", "x")}, "server returned status 400: no content"},
		{"no args", []string{"submit"}, "accepts 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--server", srv.URL}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetAndHealth(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		status   int
		wantPath string
		wantErr  string
	}{
		{"get", []string{"get", "r-1"}, http.StatusOK, "/api/v1/quotes/r-1", ""},
		{"get not found", []string{"get", "missing"}, http.StatusNotFound, "/api/v1/quotes/missing", "status 404"},
		{"health", []string{"health"}, http.StatusOK, "/health", ""},
		{"health degraded", []string{"health"}, http.StatusServiceUnavailable, "/health", "status 503"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, got := fakeServer(t, tt.status, `{"status":"ok"}`)
			_, err := execute(t, append([]string{"--server", srv.URL}, tt.args...)...)
			assert.Equal(t, http.MethodGet, got.method)
			assert.Equal(t, tt.wantPath, got.path)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestResolve(t *testing.T) {
	srv, got := fakeServer(t, http.StatusOK, `{"matched":true,"id":"42","method":"email"}`)

	out, err := execute(t, "--server", srv.URL, "resolve", "--email", "ops@carhanco.example")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/resolve", got.path)
	assert.Equal(t, "application/json", got.contentType)
	assert.JSONEq(t, `{"email":"ops@carhanco.example"}`, string(got.body))
	assert.Contains(t, out, `"id": "42"`)

	_, err = execute(t, "--server", srv.URL, "resolve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one of")
}

func TestFingerprint(t *testing.T) {
	a := writeFile(t, "a.eml", sampleEmail)
	b := writeFile(t, "b.eml", sampleEmail)

	outA, err := execute(t, "fingerprint", a)
	require.NoError(t, err)
	outB, err := execute(t, "fingerprint", b)
	require.NoError(t, err)
	assert.Equal(t, outA, outB, "file name does not affect the fingerprint")

	var fp struct {
		Channel       string `json:"channel"`
		ContentSHA256 string `json:"content_sha256"`
		MessageID     string `json:"message_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(outA), &fp))
	assert.Equal(t, "email", fp.Channel)
	assert.Len(t, fp.ContentSHA256, 64)
	assert.Equal(t, "m-1@mensah.example", fp.MessageID)

	_, err = execute(t, "fingerprint", writeFile(t, "blank.txt", "   "))
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	out, err := execute(t, "extract", writeFile(t, "q.eml", sampleEmail))
	require.NoError(t, err)

	var rec struct {
		Vehicle struct {
			Brand string `json:"brand"`
		} `json:"vehicle"`
		Shipment struct {
			Origin      string `json:"origin"`
			Destination string `json:"destination"`
		} `json:"shipment"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "Toyota", rec.Vehicle.Brand)
	assert.Equal(t, "Antwerp", rec.Shipment.Origin)
	assert.Equal(t, "Lagos", rec.Shipment.Destination)
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		file string
		data []byte
		want string
	}{
		{"mail.eml", nil, "message/rfc822"},
		{"scan.pdf", nil, "application/pdf"},
		{"photo.png", nil, "image/png"},
		{"", []byte("%PDF-1.7\n"), "application/pdf"},
		{"", []byte("hello"), "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.file+tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, contentTypeFor(tt.file, tt.data))
		})
	}
}
