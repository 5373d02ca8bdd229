package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sana-health/procsync/internal/auth"
	"github.com/sana-health/procsync/internal/procedure"
)

// maxBodyBytes caps a listing or procedure response.
const maxBodyBytes = 8 << 20

// HTTPConfig configures an HTTP catalog client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration // per request; 0 means 30s

	// Token is sent as a static bearer token when set.
	Token string
	// JWTSecret, when set and Token is empty, is used to mint a short-lived
	// device token for each request.
	JWTSecret string
	DeviceID  string

	// RateLimit is the sustained request rate per second (0 = unlimited).
	RateLimit float64
	Burst     int
}

// HTTP is a Catalog served by a remote procedure service.
type HTTP struct {
	base    *url.URL
	client  *http.Client
	cfg     HTTPConfig
	limiter *rate.Limiter
	log     zerolog.Logger
	now     func() time.Time
}

// NewHTTP returns a client for the catalog at cfg.BaseURL.
func NewHTTP(cfg HTTPConfig, logger zerolog.Logger) (*HTTP, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("catalog base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse catalog base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("catalog base url %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &HTTP{
		base:    base,
		client:  &http.Client{Timeout: cfg.Timeout},
		cfg:     cfg,
		limiter: limiter,
		log:     logger.With().Str("component", "catalog").Logger(),
		now:     time.Now,
	}, nil
}

// List implements Catalog.List.
func (h *HTTP) List(ctx context.Context) ([]procedure.Descriptor, error) {
	body, err := h.get(ctx, "/api/procedures")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: listing endpoint not found", ErrRemoteUnavailable)
		}
		return nil, err
	}

	var listing Listing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("%w: malformed listing: %v", ErrRemoteUnavailable, err)
	}
	if err := listing.Validate(); err != nil {
		return nil, fmt.Errorf("%w: malformed listing: %v", ErrRemoteUnavailable, err)
	}

	h.log.Debug().Int("count", len(listing.Procedures)).Msg("catalog listed")
	return listing.Procedures, nil
}

// Fetch implements Catalog.Fetch.
func (h *HTTP) Fetch(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty id", ErrNotFound)
	}
	body, err := h.get(ctx, "/api/procedures/"+url.PathEscape(id))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (h *HTTP) get(ctx context.Context, path string) ([]byte, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	u := h.base.String() + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrRemoteUnavailable, err)
	}
	if err := h.authorize(req); err != nil {
		return nil, err
	}

	start := h.now()
	resp, err := h.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrRemoteUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	h.log.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", h.now().Sub(start)).
		Msg("catalog request")

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: %s returned %s", ErrRemoteUnavailable, path, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrRemoteUnavailable, path, err)
	}
	if len(body) > maxBodyBytes {
		return nil, fmt.Errorf("%w: %s response exceeds %d bytes", ErrRemoteUnavailable, path, maxBodyBytes)
	}
	return body, nil
}

func (h *HTTP) authorize(req *http.Request) error {
	switch {
	case h.cfg.Token != "":
		req.Header.Set("Authorization", "Bearer "+h.cfg.Token)
	case h.cfg.JWTSecret != "":
		tok, err := auth.Mint([]byte(h.cfg.JWTSecret), h.cfg.DeviceID, auth.DefaultTTL, h.now())
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}
