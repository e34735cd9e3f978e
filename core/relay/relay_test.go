package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmind/gridnode/core/chainio"
)

func TestHTTPRelayFetchInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tasks/7/input", r.URL.Path)
		assert.Equal(t, "0xabc", r.Header.Get("X-Node-Address"))
		w.Write([]byte("prompt data"))
	}))
	defer server.Close()

	relay := NewHTTPRelay(server.URL, "0xabc", nil)
	input, err := relay.FetchInput(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("prompt data"), input)
}

func TestHTTPRelayFetchInputServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	relay := NewHTTPRelay(server.URL, "0xabc", nil)
	_, err := relay.FetchInput(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, chainio.IsTransient(err))
}

func TestHTTPRelayPublishResult(t *testing.T) {
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/tasks/9/result", r.URL.Path)
		gotBody = make([]byte, r.ContentLength)
		r.Body.Read(gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	relay := NewHTTPRelay(server.URL, "0xabc", nil)
	err := relay.PublishResult(context.Background(), 9, []byte("image bytes"))
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), gotBody)
}

func TestMockRelayFailures(t *testing.T) {
	mock := NewMockRelay()
	mock.SetInput(1, []byte("in"))
	mock.FailNextFetches(1)

	_, err := mock.FetchInput(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, chainio.IsTransient(err))

	input, err := mock.FetchInput(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("in"), input)

	mock.FailNextPublishes(1)
	err = mock.PublishResult(context.Background(), 1, []byte("out"))
	require.Error(t, err)

	require.NoError(t, mock.PublishResult(context.Background(), 1, []byte("out")))
	result, ok := mock.Result(1)
	require.True(t, ok)
	assert.Equal(t, []byte("out"), result)
	assert.Equal(t, 2, mock.PublishCalls())

	_, err = mock.FetchInput(context.Background(), 404)
	assert.Error(t, err)
}
