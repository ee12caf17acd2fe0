package resolver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-ethr-did/resolver"
)

const bareDocument = `{
	"@context": "https://www.w3.org/ns/did/v1",
	"id": "did:ethr:sepolia:0xab5801a7d398351b8be11c439e05c5b3259aec9b",
	"verificationMethod": [{
		"id": "did:ethr:sepolia:0xab5801a7d398351b8be11c439e05c5b3259aec9b#controller",
		"type": "EcdsaSecp256k1RecoveryMethod2020",
		"controller": "did:ethr:sepolia:0xab5801a7d398351b8be11c439e05c5b3259aec9b",
		"blockchainAccountId": "eip155:11155111:0xab5801a7d398351b8be11c439e05c5b3259aec9b"
	}],
	"authentication": ["did:ethr:sepolia:0xab5801a7d398351b8be11c439e05c5b3259aec9b#controller"]
}`

func newResolverServer(t *testing.T, status int, body string) (*httptest.Server, *string) {
	t.Helper()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv, &gotPath
}

func TestHTTPResolveBareDocument(t *testing.T) {
	srv, gotPath := newResolverServer(t, http.StatusOK, bareDocument)

	res, err := resolver.NewHTTP(srv.URL+"/").Resolve(context.Background(), identityDID)
	require.NoError(t, err)

	assert.Equal(t, "/1.0/identifiers/"+identityDID, *gotPath)
	require.NotNil(t, res.DIDDocument)
	assert.Equal(t, identityDID, res.DIDDocument.ID)
	require.Len(t, res.DIDDocument.VerificationMethod, 1)

	addr, ok := res.DIDDocument.VerificationMethod[0].AccountAddress()
	require.True(t, ok)
	assert.Equal(t, identityHex, addr)
}

func TestHTTPResolveEnvelope(t *testing.T) {
	body := `{"didDocument": ` + bareDocument + `, "didResolutionMetadata": {"contentType": "application/did+ld+json"}, "didDocumentMetadata": {"versionId": "42"}}`
	srv, _ := newResolverServer(t, http.StatusOK, body)

	res, err := resolver.NewHTTP(srv.URL).Resolve(context.Background(), identityDID)
	require.NoError(t, err)
	assert.Equal(t, identityDID, res.DIDDocument.ID)
	assert.Equal(t, "42", res.DIDDocumentMetadata.VersionID)
	assert.Equal(t, "application/did+ld+json", res.DIDResolutionMetadata.ContentType)
}

func TestHTTPResolveDeactivated(t *testing.T) {
	body := `{"didDocument": ` + bareDocument + `, "didDocumentMetadata": {}}`
	srv, _ := newResolverServer(t, http.StatusGone, body)

	res, err := resolver.NewHTTP(srv.URL).Resolve(context.Background(), identityDID)
	require.NoError(t, err)
	assert.True(t, res.DIDDocumentMetadata.Deactivated)
}

func TestHTTPResolveErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "not found", status: http.StatusNotFound, body: `{}`, want: resolver.ErrNotFound},
		{name: "bad request", status: http.StatusBadRequest, body: `{}`, want: resolver.ErrInvalidDID},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`, want: resolver.ErrUpstream},
		{name: "not json", status: http.StatusOK, body: `<html></html>`, want: resolver.ErrDecode},
		{name: "schema violation", status: http.StatusOK, body: `{"id": "not-a-did"}`, want: resolver.ErrDecode},
		{name: "empty envelope", status: http.StatusOK, body: `{"didDocument": null}`, want: resolver.ErrDecode},
		{name: "gone without body", status: http.StatusGone, body: ``, want: resolver.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newResolverServer(t, tt.status, tt.body)

			_, err := resolver.NewHTTP(srv.URL).Resolve(context.Background(), identityDID)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestHTTPResolveRejectsInvalidDIDLocally(t *testing.T) {
	srv, gotPath := newResolverServer(t, http.StatusOK, bareDocument)

	_, err := resolver.NewHTTP(srv.URL).Resolve(context.Background(), "did:ethr:0x1234")
	assert.ErrorIs(t, err, resolver.ErrInvalidDID)
	assert.Empty(t, *gotPath)
}

func TestHTTPResolveUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := resolver.NewHTTP(url).Resolve(context.Background(), identityDID)
	assert.ErrorIs(t, err, resolver.ErrUpstream)
}
