package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sana-health/procsync/internal/auth"
	"github.com/sana-health/procsync/internal/procedure"
)

const malariaXML = `<Procedure title="Malaria" author="Clinic"><Page/></Procedure>`

func newCatalogServer(t *testing.T, handler http.HandlerFunc) *HTTP {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTP(HTTPConfig{BaseURL: srv.URL + "/", Timeout: 2 * time.Second}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestHTTP_ListAndFetch(t *testing.T) {
	c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/procedures":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"procedures":[{"id":"a","title":"Malaria"},{"id":"b two"}]}`))
		case "/api/procedures/a":
			_, _ = w.Write([]byte(malariaXML))
		case "/api/procedures/b two":
			_, _ = w.Write([]byte(`<Procedure title="B"/>`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	list, err := c.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []procedure.Descriptor{{ID: "a", Title: "Malaria"}, {ID: "b two"}}, list)

	body, err := c.Fetch(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, malariaXML, body)

	body, err = c.Fetch(ctx, "b two")
	require.NoError(t, err)
	assert.Contains(t, body, `title="B"`)

	_, err = c.Fetch(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrRemoteUnavailable)
}

func TestHTTP_ListFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		payload string
	}{
		{"server error", http.StatusInternalServerError, ""},
		{"not found", http.StatusNotFound, ""},
		{"unauthorized", http.StatusUnauthorized, ""},
		{"not json", http.StatusOK, "<html>"},
		{"entry without id", http.StatusOK, `{"procedures":[{"id":"a"},{"title":"x"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.payload))
			})
			list, err := c.List(context.Background())
			assert.Nil(t, list)
			assert.ErrorIs(t, err, ErrRemoteUnavailable)
		})
	}
}

func TestHTTP_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewHTTP(HTTPConfig{BaseURL: url, Timeout: time.Second}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.List(context.Background())
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	_, err = c.Fetch(context.Background(), "a")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestHTTP_StaticToken(t *testing.T) {
	c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"procedures":[]}`))
	})
	c.cfg.Token = "s3cret"

	list, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestHTTP_MintsDeviceToken(t *testing.T) {
	secret := "shared"
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		device, err := auth.Verify([]byte(secret), tok)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		seen.Store(device)
		_, _ = w.Write([]byte(malariaXML))
	}))
	defer srv.Close()

	c, err := NewHTTP(HTTPConfig{BaseURL: srv.URL, JWTSecret: secret, DeviceID: "tablet-3"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "tablet-3", seen.Load())
}

func TestHTTP_RateLimitHonorsContext(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(malariaXML))
	}))
	defer srv.Close()

	c, err := NewHTTP(HTTPConfig{BaseURL: srv.URL, RateLimit: 0.001, Burst: 1}, zerolog.Nop())
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(ctx, "b")
	assert.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestHTTP_OversizedBody(t *testing.T) {
	c := newCatalogServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", maxBodyBytes+1)))
	})
	_, err := c.Fetch(context.Background(), "a")
	assert.True(t, errors.Is(err, ErrRemoteUnavailable))
}

func TestNewHTTP_Validation(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{}, zerolog.Nop())
	assert.Error(t, err)
	_, err = NewHTTP(HTTPConfig{BaseURL: "ftp://example.org"}, zerolog.Nop())
	assert.Error(t, err)
}
