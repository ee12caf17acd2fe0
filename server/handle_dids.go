package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/document"
	"github.com/pilacorp/go-ethr-did/ethrdid"
)

func (s *Server) handleHealth(e echo.Context) error {
	return e.JSON(http.StatusOK, map[string]any{
		"version": "ethrdid " + s.version,
		"chainId": s.identity.ChainID(),
	})
}

func (s *Server) handleCreateDID(e echo.Context) error {
	res, err := s.identity.CreateDID()
	if err != nil {
		return s.coreError(e, err)
	}

	return e.JSON(http.StatusCreated, res)
}

type didPathRequest struct {
	DID string `param:"did" validate:"required,ethr-did"`
}

type resolveRequest struct {
	DID   string `param:"did" validate:"required,ethr-did"`
	KeyID string `query:"keyId"`
}

type resolveResponse struct {
	*document.Resolution
	KeyVerification *bool `json:"keyVerification,omitempty"`
}

func (s *Server) handleResolveDID(e echo.Context) error {
	var req resolveRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	res, err := s.identity.Resolve(e.Request().Context(), req.DID)
	if err != nil {
		return s.coreError(e, err)
	}

	resp := resolveResponse{Resolution: res}
	if req.KeyID != "" {
		ok := res.DIDDocument.VerifyKey(req.KeyID)
		resp.KeyVerification = &ok
	}

	return e.JSON(http.StatusOK, resp)
}

func (s *Server) handleBalance(e echo.Context) error {
	var req didPathRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	balance, err := s.identity.CheckBalance(e.Request().Context(), req.DID)
	if err != nil {
		return s.coreError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]string{"did": req.DID, "wei": balance.String()})
}

func (s *Server) handleListAttributes(e echo.Context) error {
	var req didPathRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]any{"attributes": s.identity.DIDAttributes(e.Request().Context(), req.DID)})
}

type validityResponse struct {
	DID     string `json:"did"`
	Valid   bool   `json:"valid"`
	Address string `json:"address,omitempty"`
}

// handleValidateDID reports the format check only; it never touches the chain.
func (s *Server) handleValidateDID(e echo.Context) error {
	didStr := e.Param("did")
	address, ok := did.ExtractAddress(didStr)

	return e.JSON(http.StatusOK, validityResponse{DID: didStr, Valid: ok, Address: address})
}

type registerRequest struct {
	DID        string `param:"did" validate:"required,ethr-did"`
	PrivateKey string `json:"privateKey" validate:"required"`
}

func (s *Server) handleRegisterDID(e echo.Context) error {
	var req registerRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	txHash, err := s.identity.RegisterDID(e.Request().Context(), req.DID, req.PrivateKey)
	if err != nil {
		return s.coreError(e, err)
	}

	return e.JSON(http.StatusOK, map[string]string{"txHash": txHash})
}

type attributeRequest struct {
	DID             string `param:"did" validate:"required,ethr-did"`
	PrivateKey      string `json:"privateKey" validate:"required"`
	Key             string `json:"key" validate:"required,max=32"`
	Value           string `json:"value"`
	ValiditySeconds int64  `json:"validitySeconds" validate:"gte=0,max=9223372036"`
}

func (s *Server) handleAddAttribute(e echo.Context) error {
	var req attributeRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	var opts []ethrdid.AttributeOption
	if req.ValiditySeconds > 0 {
		opts = append(opts, ethrdid.WithAttributeValidity(time.Duration(req.ValiditySeconds)*time.Second))
	}

	res, err := s.identity.AddDIDAttribute(e.Request().Context(), req.DID, req.PrivateKey, req.Key, req.Value, opts...)
	if err != nil {
		return s.coreError(e, err)
	}

	return e.JSON(http.StatusOK, res)
}

type ownershipRequest struct {
	DID     string `param:"did" validate:"required,ethr-did"`
	Address string `json:"address" validate:"required"`
}

func (s *Server) handleVerifyOwnership(e echo.Context) error {
	var req ownershipRequest
	if err := e.Bind(&req); err != nil {
		return inputError(e, err)
	}
	if err := e.Validate(req); err != nil {
		return inputError(e, err)
	}

	owner := s.identity.VerifyDIDOwnership(e.Request().Context(), req.DID, req.Address)

	return e.JSON(http.StatusOK, map[string]bool{"owner": owner})
}
