package summarizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratumhq/stratum/internal/domain"
	"github.com/stratumhq/stratum/internal/resilience"
)

func testBucket() *resilience.TokenBucket {
	return resilience.NewTokenBucket(llmBurst, llmRefillRate)
}

func TestPostJSON_TransientStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		_, err := postJSON(context.Background(), srv.Client(), testBucket(), srv.URL, nil, map[string]string{"k": "v"})
		require.Error(t, err)
		assert.True(t, domain.IsTransient(err), "status %d should be transient", status)
		srv.Close()
	}
}

func TestPostJSON_ClientErrorIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := postJSON(context.Background(), srv.Client(), testBucket(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
}

func TestPostJSON_SetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := postJSON(context.Background(), srv.Client(), testBucket(), srv.URL,
		map[string]string{"Authorization": "Bearer sk-test"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
}

func TestParseChat(t *testing.T) {
	out, err := parseChat([]byte(`{"choices":[{"message":{"content":"  summary text \n"}}]}`))
	require.NoError(t, err)
	assert.Equal(t, "summary text", out)

	_, err = parseChat([]byte(`{"error":{"message":"model overloaded"}}`))
	assert.ErrorContains(t, err, "model overloaded")

	_, err = parseChat([]byte(`{"choices":[]}`))
	assert.ErrorContains(t, err, "no choices")
}
