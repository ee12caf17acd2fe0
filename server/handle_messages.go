package server

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"

	"github.com/pilacorp/go-ethr-did/ethrdid"
)

type sendMessageRequest struct {
	DID        string `param:"did" validate:"required,ethr-did"`
	PrivateKey string `json:"privateKey" validate:"required"`
	Message    string `json:"message" validate:"required"`
}

func (s *Server) handleSendMessage(e echo.Context) error {
	var req sendMessageRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	// Each request runs its own session; the key lives only for the call.
	msg, err := s.identity.NewSession(req.DID).Send(e.Request().Context(), req.PrivateKey, req.Message)
	if err != nil {
		return s.coreError(e, err)
	}
	s.record(*msg)

	return e.JSON(http.StatusCreated, msg)
}

func (s *Server) handleListMessages(e echo.Context) error {
	var req didPathRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	history := s.history(req.DID)
	slices.SortStableFunc(history, func(a, b ethrdid.SignedMessage) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	if history == nil {
		history = []ethrdid.SignedMessage{}
	}

	return e.JSON(http.StatusOK, map[string]any{"messages": history})
}

type verifyMessageRequest struct {
	DID       string `json:"did" validate:"required,ethr-did"`
	Message   string `json:"message" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

func (s *Server) handleVerifyMessage(e echo.Context) error {
	var req verifyMessageRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	signer, err := s.identity.VerifyMessage(e.Request().Context(), req.DID, req.Message, req.Signature)
	if err != nil {
		return s.coreError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]string{"signer": signer})
}
