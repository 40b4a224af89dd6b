package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"name": "curl_fuzzer"}`)
	}))
	defer srv.Close()

	var out struct {
		Name string `json:"name"`
	}
	c := New(zaptest.NewLogger(t))
	err := c.FetchJSON(context.Background(), srv.URL, map[string]string{"Authorization": "token"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "curl_fuzzer", out.Name)
}

func TestFetchJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"ok": true}`)
	}))
	defer srv.Close()

	var out map[string]bool
	c := New(zaptest.NewLogger(t))
	require.NoError(t, c.FetchJSON(context.Background(), srv.URL, nil, &out))
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchJSONDoesNotRetryBadPayload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `<html>not json</html>`)
	}))
	defer srv.Close()

	var out map[string]any
	c := New(zaptest.NewLogger(t))
	err := c.FetchJSON(context.Background(), srv.URL, nil, &out)
	require.Error(t, err)
	// A malformed body will not get better on a second request.
	assert.Equal(t, int32(1), calls.Load())
}
