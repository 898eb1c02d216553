package ports_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourmap/assetcache/internal/ports"
)

func TestNewDomainSuffixesValidation(t *testing.T) {
	t.Parallel()

	_, err := ports.NewDomainSuffixes(".tourmap.example")
	assert.Error(t, err)

	_, err = ports.NewDomainSuffixes("https://tourmap.example")
	assert.Error(t, err)

	_, err = ports.NewDomainSuffixes("tourmap.example", "overlay.example")
	assert.NoError(t, err)
}

func TestDomainSuffixesAnyMatch(t *testing.T) {
	t.Parallel()

	suffixes, err := ports.NewDomainSuffixes("tourmap.example")
	require.NoError(t, err)

	cases := []struct {
		origin  string
		matches bool
	}{
		{origin: "https://tourmap.example", matches: true},
		{origin: "https://app.tourmap.example", matches: true},
		{origin: "https://deeply.nested.tourmap.example", matches: true},
		{origin: "http://tourmap.example", matches: false},
		{origin: "https://tourmap.example.evil.com", matches: false},
		{origin: "https://nottourmap.example", matches: false},
		{origin: "", matches: false},
	}

	for _, tc := range cases {
		t.Run(tc.origin, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.matches, suffixes.AnyMatch(tc.origin))
		})
	}
}

func TestCORSMiddlewareHandlesPreflight(t *testing.T) {
	t.Parallel()

	suffixes, err := ports.NewDomainSuffixes("tourmap.example")
	require.NoError(t, err)

	nextCalled := false
	handler := ports.BuildCORSMiddleware(suffixes)(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	r := httptest.NewRequest(http.MethodOptions, "/v1/asset", nil)
	r.Header.Set("Origin", "https://app.tourmap.example")
	w := httptest.NewRecorder()
	handler(w, r)

	assert.False(t, nextCalled)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.tourmap.example", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST", w.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORSMiddlewarePassesThroughDisallowedOrigin(t *testing.T) {
	t.Parallel()

	suffixes, err := ports.NewDomainSuffixes("tourmap.example")
	require.NoError(t, err)

	nextCalled := false
	handler := ports.BuildCORSMiddleware(suffixes)(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
	})

	r := httptest.NewRequest(http.MethodGet, "/v1/asset", nil)
	r.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	handler(w, r)

	assert.True(t, nextCalled)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
