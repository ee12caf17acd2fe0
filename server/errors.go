package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/pilacorp/go-ethr-did/ethrdid"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var kindNames = map[error]string{
	ethrdid.ErrFormat:                      "InvalidFormat",
	ethrdid.ErrKeyGeneration:               "KeyGenerationError",
	ethrdid.ErrKeyMismatch:                 "KeyMismatchError",
	ethrdid.ErrWrongNetwork:                "WrongNetworkError",
	ethrdid.ErrInsufficientFunds:           "InsufficientFundsError",
	ethrdid.ErrNonceConflict:               "NonceConflictError",
	ethrdid.ErrTransactionFailed:           "TransactionFailedError",
	ethrdid.ErrResolution:                  "ResolutionError",
	ethrdid.ErrNotFound:                    "NotFound",
	ethrdid.ErrSignatureVerificationFailed: "SignatureVerificationFailedError",
}

func statusFor(kind error) int {
	switch kind {
	case ethrdid.ErrFormat, ethrdid.ErrWrongNetwork:
		return http.StatusBadRequest
	case ethrdid.ErrKeyMismatch:
		return http.StatusForbidden
	case ethrdid.ErrSignatureVerificationFailed:
		return http.StatusUnauthorized
	case ethrdid.ErrNotFound:
		return http.StatusNotFound
	case ethrdid.ErrInsufficientFunds:
		return http.StatusPaymentRequired
	case ethrdid.ErrNonceConflict:
		return http.StatusConflict
	case ethrdid.ErrTransactionFailed, ethrdid.ErrResolution:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) coreError(e echo.Context, err error) error {
	kind := ethrdid.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(e.Request().Context(), "request failed", "path", e.Path(), "error", err)
	}

	name, ok := kindNames[kind]
	if !ok {
		name = "InternalServerError"
	}

	return e.JSON(status, errorResponse{Error: name, Message: ethrdid.UserMessage(err)})
}

func inputError(e echo.Context, err error) error {
	msg := "InvalidRequest"
	var verr ValidationError
	if errors.As(err, &verr) {
		msg = "invalid " + verr.Field + ": " + verr.Tag
	}
	return e.JSON(http.StatusBadRequest, errorResponse{Error: "InvalidRequest", Message: msg})
}
