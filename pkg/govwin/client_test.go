package govwin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/fedmatch/internal/resilience"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		ClientID:     "cid",
		ClientSecret: "secret",
		Username:     "user",
		Password:     "pass",
	}
}

func TestClient_AuthenticatesAndSearches(t *testing.T) {
	var tokenCalls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenCalls.Add(1)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "password", r.Form.Get("grant_type"))
			assert.Equal(t, "user", r.Form.Get("username"))
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"access_token": "tok-1", "refresh_token": "ref-1", "expires_in": 3600,
			})
		case "/opportunities":
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			assert.Equal(t, "soil remediation", r.URL.Query().Get("q"))
			assert.Equal(t, "10", r.URL.Query().Get("max"))
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"opportunities": []map[string]any{
					{"iqOppId": "OPP123", "title": "Soil Remediation IDIQ", "govEntity": map[string]any{"name": "USACE"}, "oppValue": 1500000.0},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	got, err := c.Search(context.Background(), SearchQuery{Keyword: "soil remediation", MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "OPP123", got[0].ExternalID())
	assert.Equal(t, "USACE", got[0].GovEntity.Name)

	// Token is cached across searches.
	_, err = c.Search(context.Background(), SearchQuery{Keyword: "soil remediation", MaxResults: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenCalls.Load())
}

func TestClient_RetriesOnceOn401(t *testing.T) {
	var searchCalls atomic.Int32
	tokens := []string{"tok-old", "tok-new"}
	var tokenIdx atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			i := tokenIdx.Add(1) - 1
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"access_token": tokens[i], "refresh_token": "ref", "expires_in": 3600,
			})
		case "/opportunities":
			if searchCalls.Add(1) == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			assert.Equal(t, "Bearer tok-new", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]any{"opportunities": []map[string]any{}}) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Search(context.Background(), SearchQuery{Keyword: "x"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), searchCalls.Load())
}

func TestClient_EmptyResultSetIs404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 3600}) //nolint:errcheck
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	got, err := c.Search(context.Background(), SearchQuery{Keyword: "nothing matches"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "expires_in": 3600}) //nolint:errcheck
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Search(context.Background(), SearchQuery{Keyword: "x"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
}

func TestClient_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	_, err := c.Search(context.Background(), SearchQuery{Keyword: "x"})
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "invalid_grant")
}
