package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RemoteProvider signs payloads through a remote signing API, so the private
// key never enters this process.
//
// The API receives {"payload_hex": "<32 bytes>"} and answers
// {"signature_hex": "<65 bytes R||S||V>"}.
type RemoteProvider struct {
	endpoint string
	apiKey   string
	address  string
	client   *http.Client
	timeout  time.Duration
}

// NewRemoteProvider creates a provider for the key controlling address.
func NewRemoteProvider(endpoint, apiKey, address string) (*RemoteProvider, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("address %q is not an address", address)
	}

	return &RemoteProvider{
		endpoint: endpoint,
		apiKey:   apiKey,
		address:  strings.ToLower(common.HexToAddress(address).Hex()),
		client:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		timeout:  10 * time.Second,
	}, nil
}

// Sign signs a 32-byte hash using the remote API.
func (s *RemoteProvider) Sign(payload []byte) ([]byte, error) {
	if len(payload) != 32 {
		return nil, fmt.Errorf("payload must be 32 bytes, got %d", len(payload))
	}

	reqBody, err := json.Marshal(map[string]any{
		"payload_hex": hex.EncodeToString(payload),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer http %d", resp.StatusCode)
	}

	var out struct {
		SignatureHex string `json:"signature_hex"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode remote signer response: %w", err)
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(out.SignatureHex, "0x"))
	if err != nil {
		return nil, err
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("invalid signature length %d", len(sig))
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	return sig, nil
}

// GetAddress returns the lowercase address of the remote key.
func (s *RemoteProvider) GetAddress() string {
	return s.address
}
