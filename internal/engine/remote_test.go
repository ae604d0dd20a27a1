package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteReadyProbesHealth(t *testing.T) {
	loaded := false
	var probes int
	sidecar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		probes++
		json.NewEncoder(w).Encode(healthResponse{ModelLoaded: loaded})
	}))
	defer sidecar.Close()

	remote := NewRemote(sidecar.URL, "", time.Second)
	ctx := context.Background()
	assert.False(t, remote.Ready(ctx))
	loaded = true
	assert.True(t, remote.Ready(ctx))
	// Readiness is sticky: no further probes once the model is loaded.
	assert.True(t, remote.Ready(ctx))
	assert.Equal(t, 2, probes)
}

func TestRemoteInfer(t *testing.T) {
	imgPath := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake-png"), 0o644))

	var got inferRequest
	sidecar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/internal/infer", r.URL.Path)
		require.Equal(t, "sekrit", r.Header.Get("X-Internal-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(inferResponse{Text: "recognized"})
	}))
	defer sidecar.Close()

	remote := NewRemote(sidecar.URL, "sekrit", time.Second)
	text, err := remote.Infer(context.Background(), "prompt", imgPath, Params{BaseSize: 1024, ImageSize: 640, CropMode: true})
	require.NoError(t, err)
	assert.Equal(t, "recognized", text)
	assert.Equal(t, "prompt", got.Prompt)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("fake-png")), got.ImageBase64)
	assert.Equal(t, 1024, got.BaseSize)
	assert.True(t, got.CropMode)
}

func TestRemoteInferErrors(t *testing.T) {
	sidecar := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer sidecar.Close()

	imgPath := filepath.Join(t.TempDir(), "scan.png")
	require.NoError(t, os.WriteFile(imgPath, []byte("fake"), 0o644))

	remote := NewRemote(sidecar.URL, "", time.Second)
	_, err := remote.Infer(context.Background(), "p", imgPath, Params{})
	assert.Error(t, err)

	_, err = remote.Infer(context.Background(), "p", filepath.Join(t.TempDir(), "missing.png"), Params{})
	assert.Error(t, err)
}
