// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Ollama is running"))
	})
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{
				{"name": "llama3.1:8b", "size": 4_920_000_000, "details": map[string]any{"family": "llama"}},
				{"name": "qwen3:latest", "size": 5_200_000_000},
			},
		})
	})
	mux.HandleFunc("/api/show", func(w http.ResponseWriter, r *http.Request) {
		var req ShowModelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		switch req.Model {
		case "llama3.1:8b":
			json.NewEncoder(w).Encode(map[string]any{
				"details": map[string]any{"family": "llama"},
				"model_info": map[string]any{
					"general.architecture":          "llama",
					"llama.block_count":             32,
					"llama.attention.head_count":    32,
					"llama.attention.head_count_kv": 8,
					"llama.embedding_length":        4096,
					"llama.context_length":          131072,
				},
			})
		case "qwen3":
			json.NewEncoder(w).Encode(map[string]any{"model_info": map[string]any{"general.architecture": "qwen3"}})
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(OllamaError{Error: "model failed to load"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckRunning(t *testing.T) {
	srv := newTestServer(t)
	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL + "/"})
	assert.NoError(t, c.CheckRunning(context.Background()))
	assert.Equal(t, srv.URL, c.GetConfig().BaseURL)

	down := NewClientWithConfig(&ClientConfig{BaseURL: "http://127.0.0.1:1"})
	err := down.CheckRunning(context.Background())
	assert.True(t, IsNotRunning(err), "err = %v", err)
}

func TestListModels(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: newTestServer(t).URL})
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama", models[0].Details.Family)
	assert.Equal(t, "4.6 GB", models[0].FormatSize())
}

func TestShowModel(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: newTestServer(t).URL})

	show, err := c.ShowModel(context.Background(), "llama3.1:8b")
	require.NoError(t, err)
	assert.Equal(t, "llama", show.Architecture())
	assert.True(t, c.ModelExists(context.Background(), "llama3.1:8b"))

	_, err = c.ShowModel(context.Background(), "missing")
	assert.True(t, IsModelNotFound(err))
	assert.False(t, c.ModelExists(context.Background(), "missing"))

	_, err = c.ShowModel(context.Background(), "broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model failed to load")
}

func TestMetrics(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: newTestServer(t).URL})

	m, err := c.Metrics(context.Background(), "llama3.1:8b")
	require.NoError(t, err)
	assert.Equal(t, 32, m.TotalLayers)
	assert.Equal(t, 8, m.HeadCountKV)
	assert.Equal(t, 131072, m.ContextLength)
	assert.InDelta(t, 4.58, m.ModelSizeGB, 0.01)

	_, err = c.Metrics(context.Background(), "qwen3")
	require.Error(t, err, "incomplete model info")
	var ce *ClientError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ErrTypeInvalidResponse, ce.Type)
	assert.Contains(t, err.Error(), "architecture qwen3")
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	err := c.CheckRunning(context.Background())
	assert.True(t, IsTimeout(err), "err = %v", err)
}

func TestSameModel(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"qwen3:latest", "qwen3", true},
		{"qwen3", "qwen3:latest", true},
		{"llama3.1:8b", "llama3.1:8b", true},
		{"llama3.1:8b", "llama3.1:70b", false},
		{"", "qwen3", false},
	}
	for _, tc := range tests {
		if got := sameModel(tc.a, tc.b); got != tc.want {
			t.Errorf("sameModel(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{8 << 30, "8.0 GB"},
	}
	for _, tc := range tests {
		m := ModelInfo{Size: tc.size}
		if got := m.FormatSize(); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}
