package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"health-coach-go/internal/config"
)

func sseServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			payload, _ := json.Marshal(map[string]interface{}{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"choices": []map[string]interface{}{{"index": 0, "delta": map[string]string{"content": c}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func collect(t *testing.T, p Provider) (string, []string, error) {
	t.Helper()
	var tokens []string
	err := p.StreamChat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, nil, func(tok string) error {
		tokens = append(tokens, tok)
		return nil
	})
	return strings.Join(tokens, ""), tokens, err
}

func TestCompatibleClient_StreamsInOrder(t *testing.T) {
	srv := sseServer(t, []string{"VO2 ", "max ", "is..."})
	defer srv.Close()

	p := NewCompatibleClient(config.ProviderConfig{Name: "primary", BaseURL: srv.URL + "/v1/"})
	text, tokens, err := collect(t, p)
	require.NoError(t, err)
	assert.Equal(t, []string{"VO2 ", "max ", "is..."}, tokens)
	assert.Equal(t, "VO2 max is...", text)
	assert.Equal(t, "primary", p.Name())
}

func TestCompatibleClient_Non200IsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, _, err := collect(t, NewCompatibleClient(config.ProviderConfig{Name: "primary", BaseURL: srv.URL}))
	require.Error(t, err)
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "primary", pe.Provider)
}

func TestCompatibleClient_ConnectionRefusedIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, _, err := collect(t, NewCompatibleClient(config.ProviderConfig{Name: "primary", BaseURL: url}))
	assert.True(t, IsProviderError(err))
}

func TestCompatibleClient_CallbackErrorStopsStream(t *testing.T) {
	srv := sseServer(t, []string{"a", "b", "c"})
	defer srv.Close()

	stop := errors.New("consumer gone")
	var seen int
	err := NewCompatibleClient(config.ProviderConfig{Name: "p", BaseURL: srv.URL}).StreamChat(
		context.Background(), "m", nil, nil, func(string) error {
			seen++
			return stop
		})
	assert.ErrorIs(t, err, stop)
	assert.False(t, IsProviderError(err))
	assert.Equal(t, 1, seen)
}

func TestOpenAIClient_Streams(t *testing.T) {
	srv := sseServer(t, []string{"Hello", ", ", "world"})
	defer srv.Close()

	p := NewOpenAIClient(config.ProviderConfig{Name: "openai", APIKey: "k", BaseURL: srv.URL + "/v1"})
	text, _, err := collect(t, p)
	require.NoError(t, err)
	assert.Equal(t, "Hello, world", text)
}

func TestOpenAIClient_ErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	_, _, err := collect(t, NewOpenAIClient(config.ProviderConfig{Name: "openai", BaseURL: srv.URL}))
	var pe *ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, http.StatusUnauthorized, pe.StatusCode)
}

func TestComplete_Concatenates(t *testing.T) {
	srv := sseServer(t, []string{`{"topic":`, `"sleep"}`})
	defer srv.Close()

	out, err := Complete(context.Background(), NewCompatibleClient(config.ProviderConfig{Name: "p", BaseURL: srv.URL}), "m", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"topic":"sleep"}`, out)
}

func TestBuildRegistry(t *testing.T) {
	reg, err := BuildRegistry([]config.ProviderConfig{
		{Name: "deepseek", Kind: "openai_compatible", BaseURL: "http://x"},
		{Name: "openai", Kind: "openai"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"deepseek", "openai"}, reg.Names())

	p, err := reg.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = reg.Get("missing")
	assert.Error(t, err)

	_, err = BuildRegistry([]config.ProviderConfig{{Name: "a", Kind: "grpc"}})
	assert.Error(t, err)

	_, err = BuildRegistry([]config.ProviderConfig{{Name: "a", Kind: "openai"}, {Name: "a", Kind: "openai"}})
	assert.Error(t, err)
}
