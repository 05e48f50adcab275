package rerank

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Rerank_ParsesScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"scores": [0.9, 0.1]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	scores, err := c.Rerank(context.Background(), "q", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9, 0.1}, scores)
}

func TestClient_Rerank_RetriesThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"scores": [0.5]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.backoff = 0
	scores, err := c.Rerank(context.Background(), "q", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, scores)
	assert.Equal(t, 2, attempts)
}

func TestClient_Rerank_MismatchedScoreCountErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"scores": [0.5]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	c.maxRetries = 0
	_, err := c.Rerank(context.Background(), "q", []string{"a", "b"})
	assert.Error(t, err)
}
