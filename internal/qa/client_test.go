package qa

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nomadai/rag-gateway/internal/config"
	"github.com/nomadai/rag-gateway/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.UpstreamConfig{
		BaseURL: srv.URL,
		Path:    "/rag",
		Timeout: timeout,
	}, zap.NewNop())
}

func TestAnswer_ForwardsQuestion(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rag", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]string{"question": "what is xApp?"}, body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"answer":"  an O-RAN application\n"}`))
	}, time.Second)

	answer, err := client.Answer(context.Background(), "what is xApp?")
	require.NoError(t, err)
	assert.Equal(t, "  an O-RAN application\n", answer)
}

func TestAnswer_MissingAnswerField(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":"wrong shape"}`))
	}, time.Second)

	_, err := client.Answer(context.Background(), "q")
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindMalformed, ue.Kind)
	assert.Contains(t, err.Error(), `missing "answer" field`)
}

func TestAnswer_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>oops</html>`))
	}, time.Second)

	_, err := client.Answer(context.Background(), "q")
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindMalformed, ue.Kind)
}

func TestAnswer_ErrorStatus(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "boom", http.StatusInternalServerError)
	}, time.Second)

	_, err := client.Answer(context.Background(), "q")
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindStatus, ue.Kind)
	assert.Equal(t, http.StatusInternalServerError, ue.StatusCode)
	assert.Equal(t, 1, calls, "no retries")
}

func TestAnswer_Timeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 100*time.Millisecond)
	defer close(release)

	start := time.Now()
	_, err := client.Answer(context.Background(), "q")
	elapsed := time.Since(start)

	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindTransport, ue.Kind)
	assert.True(t, ue.Timeout())
	assert.Less(t, elapsed, 5*time.Second)
}

func TestAnswer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := NewClient(config.UpstreamConfig{BaseURL: url, Path: "rag", Timeout: time.Second}, zap.NewNop())

	_, err := client.Answer(context.Background(), "q")
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindTransport, ue.Kind)
}

func TestAnswer_OAuthClientCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"upstream-token","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/rag", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer upstream-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"answer": "authorized"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(config.UpstreamConfig{
		BaseURL: srv.URL,
		Path:    "/rag",
		Timeout: time.Second,
		OAuth: config.OAuthConfig{
			TokenURL:     srv.URL + "/token",
			ClientID:     "gateway",
			ClientSecret: "secret",
		},
	}, zap.NewNop())

	answer, err := client.Answer(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "authorized", answer)
}

func TestAnswer_OAuthTokenReused(t *testing.T) {
	var tokenCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"upstream-token","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/rag", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer upstream-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]string{"answer": "ok"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(config.UpstreamConfig{
		BaseURL: srv.URL,
		Path:    "/rag",
		Timeout: time.Second,
		OAuth:   config.OAuthConfig{TokenURL: srv.URL + "/token", ClientID: "gateway", ClientSecret: "secret"},
	}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := client.Answer(context.Background(), "q")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestAnswer_StalledTokenEndpointHonorsTimeout(t *testing.T) {
	var ragCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
		}
		w.Write([]byte(`{"access_token":"late","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/rag", func(w http.ResponseWriter, r *http.Request) {
		ragCalls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"answer": "ok"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(config.UpstreamConfig{
		BaseURL: srv.URL,
		Path:    "/rag",
		Timeout: 300 * time.Millisecond,
		OAuth:   config.OAuthConfig{TokenURL: srv.URL + "/token", ClientID: "gateway", ClientSecret: "secret"},
	}, zap.NewNop())

	start := time.Now()
	_, err := client.Answer(context.Background(), "q")
	elapsed := time.Since(start)

	require.Error(t, err)
	var ue *UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, KindTransport, ue.Kind)
	assert.Contains(t, err.Error(), "token request failed")
	assert.Less(t, elapsed, 2*time.Second)
	assert.Zero(t, ragCalls.Load())
}

func TestQARequest_FieldName(t *testing.T) {
	data, err := json.Marshal(models.QARequest{Question: "hi"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"question":"hi"}`, string(data))
}
