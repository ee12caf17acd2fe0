package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/document"
)

const maxResponseBytes = 1 << 20

// HTTPOption configures the universal resolver client.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		if c != nil {
			h.client = c
		}
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTP) {
		if ua != "" {
			h.userAgent = ua
		}
	}
}

// HTTP is a client for a DID universal resolver endpoint
// (GET <baseURL>/1.0/identifiers/<did>).
type HTTP struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

// NewHTTP creates a resolver for baseURL. Requests are traced through an
// otelhttp transport.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: "go-ethr-did/resolver",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Resolve implements Resolver. The endpoint may answer with a bare DID
// Document or with a resolution result envelope.
func (h *HTTP) Resolve(ctx context.Context, didStr string) (*document.Resolution, error) {
	if _, err := did.Parse(didStr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}

	target, err := url.JoinPath(h.baseURL, "1.0", "identifiers", didStr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("accept", "application/did+ld+json, application/did+json, application/ld+json;profile=\"https://w3id.org/did-resolution\"")
	req.Header.Set("user-agent", h.userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUpstream, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return decodeResolution(body)
	case http.StatusGone:
		// Deactivated DIDs are reported with 410 and a resolution body.
		res, err := decodeResolution(body)
		if err != nil {
			return nil, ErrNotFound
		}
		res.DIDDocumentMetadata.Deactivated = true
		return res, nil
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusBadRequest:
		return nil, ErrInvalidDID
	default:
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func decodeResolution(body []byte) (*document.Resolution, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if rawDoc, ok := envelope["didDocument"]; ok {
		var res document.Resolution
		if err := json.Unmarshal(body, &res); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if res.DIDDocument == nil {
			if res.DIDDocumentMetadata.Deactivated {
				return &res, nil
			}
			return nil, fmt.Errorf("%w: empty didDocument", ErrDecode)
		}
		if err := document.ValidateJSON(rawDoc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		return &res, nil
	}

	if err := document.ValidateJSON(body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var doc document.DIDDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return &document.Resolution{DIDDocument: &doc}, nil
}
