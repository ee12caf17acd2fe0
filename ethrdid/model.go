package ethrdid

import "time"

// DIDResult is a freshly created DID together with its key material.
type DIDResult struct {
	DID          string `json:"did"`
	Address      string `json:"address"`
	PublicKeyHex string `json:"publicKeyHex"`
	Secret       Secret `json:"secret"`
}

// Secret holds the private key of a DID. It is never persisted.
type Secret struct {
	PrivateKeyHex string `json:"privateKeyHex"`
}

// AttributeResult describes a mined setAttribute transaction.
type AttributeResult struct {
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	Key         string `json:"key"`
	Value       string `json:"value"`
}

// SignedMessage is a chat message signed by a DID's key.
type SignedMessage struct {
	ID        string    `json:"id"`
	DID       string    `json:"did"`
	Message   string    `json:"message"`
	Signature string    `json:"signature"`
	Signer    string    `json:"signer"`
	Timestamp time.Time `json:"timestamp"`
}
