package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	tmp := t.TempDir()
	clients := filepath.Join(tmp, "clients.yaml")
	require.NoError(t, os.WriteFile(clients, []byte("clients:\n  - id: 42\n    name: Carhanco\n    email: ops@carhanco.example\n"), 0o600))
	inbox := filepath.Join(tmp, "inbox")
	require.NoError(t, os.Mkdir(inbox, 0o750))

	t.Setenv("QUOTED_SERVER_PORT", "18441")
	t.Setenv("QUOTED_LEDGER_DRIVER", "sqlite")
	t.Setenv("QUOTED_LEDGER_PATH", filepath.Join(tmp, "quoted.db"))
	t.Setenv("QUOTED_DIRECTORY_FILE", clients)
	t.Setenv("QUOTED_INTAKE_WATCH_DIR", inbox)
	t.Setenv("QUOTED_OBSERVABILITY_LOG_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx, "") }()

	base := "http://localhost:18441"
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	body, err := json.Marshal(map[string]string{
		"text": "Please quote a Toyota Hilux from Antwerp to Lagos.\nops@carhanco.example",
	})
	require.NoError(t, err)
	resp, err := http.Post(base+"/api/v1/quotes", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var out struct {
		Ref    string `json:"ref"`
		Client struct {
			ID string `json:"id"`
		} `json:"client"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEmpty(t, out.Ref)
	assert.Equal(t, "42", out.Client.ID)

	require.NoError(t, os.WriteFile(filepath.Join(inbox, "q.txt"), []byte("Ford Ranger from Hamburg to Mombasa"), 0o600))
	require.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(inbox, "processed", "q.txt"))
		return err == nil
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not shut down in time")
	}
}
