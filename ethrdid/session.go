package ethrdid

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/pilacorp/go-ethr-did/signer"
)

// State is a step of a message send.
type State int

const (
	StateIdle State = iota
	StateSigning
	StateResolving
	StateVerifying
	StateAccepted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSigning:
		return "signing"
	case StateResolving:
		return "resolving"
	case StateVerifying:
		return "verifying"
	case StateAccepted:
		return "accepted"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithTransitionHook registers fn to be called on every state change.
func WithTransitionHook(fn func(State)) SessionOption {
	return func(s *Session) { s.onTransition = fn }
}

// Session is a chat session of one DID. Each Send signs the message, resolves
// the DID and verifies the signature against the document; only accepted
// messages are kept in the history.
//
// Sends are serialized and single-attempt. The session never holds a private
// key; it is passed to each Send.
type Session struct {
	identity     *Identity
	did          string
	onTransition func(State)

	sendMu sync.Mutex

	mu      sync.RWMutex
	state   State
	lastErr error
	history []SignedMessage
}

// NewSession starts a session for didStr.
func (i *Identity) NewSession(didStr string, options ...SessionOption) *Session {
	s := &Session{
		identity: i,
		did:      didStr,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// DID returns the session's DID.
func (s *Session) DID() string {
	return s.did
}

// State returns the state reached by the last Send.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error of the last rejected Send.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// History returns a copy of the accepted messages, oldest first.
func (s *Session) History() []SignedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history)
}

// Send signs message with privateKeyHex and verifies it. On success the
// signed message is appended to the history; on failure the session ends
// Rejected and the error is returned.
func (s *Session) Send(ctx context.Context, privateKeyHex, message string) (*SignedMessage, error) {
	const op = "Send"

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.transition(StateSigning, nil)
	if message == "" {
		return nil, s.reject(newError(op, ErrFormat, errors.New("message is empty")))
	}
	signed, err := s.identity.SignMessage(s.did, privateKeyHex, message)
	if err != nil {
		return nil, s.reject(rewrap(op, err))
	}

	s.transition(StateResolving, nil)
	res, err := s.identity.Resolve(ctx, s.did)
	if err != nil {
		return nil, s.reject(rewrap(op, err))
	}

	s.transition(StateVerifying, nil)
	recovered, err := signer.RecoverAddressHex(signed.Message, signed.Signature)
	if err != nil {
		return nil, s.reject(newError(op, ErrSignatureVerificationFailed, err))
	}
	if err := authorizedSigner(res.DIDDocument, recovered); err != nil {
		return nil, s.reject(newError(op, ErrSignatureVerificationFailed, err))
	}

	s.mu.Lock()
	s.history = append(s.history, *signed)
	s.mu.Unlock()
	s.transition(StateAccepted, nil)

	return signed, nil
}

func (s *Session) reject(err error) error {
	s.transition(StateRejected, err)
	s.identity.logger.Warn("message rejected", "did", s.did, "error", err)
	return err
}

func (s *Session) transition(to State, err error) {
	s.mu.Lock()
	s.state = to
	s.lastErr = err
	s.mu.Unlock()

	if s.onTransition != nil {
		s.onTransition(to)
	}
}
