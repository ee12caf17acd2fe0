// Package server exposes the DID identity core over HTTP for the demo web app.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-ethr-did/did"
	"github.com/pilacorp/go-ethr-did/ethrdid"
)

type Server struct {
	echo     *echo.Echo
	httpd    *http.Server
	identity *ethrdid.Identity
	logger   *slog.Logger
	version  string

	mu        sync.Mutex
	histories map[historyKey][]ethrdid.SignedMessage
}

type Args struct {
	Addr     string
	Identity *ethrdid.Identity
	Logger   *slog.Logger
	Version  string
}

type historyKey struct {
	did    string
	signer string
}

type CustomValidator struct {
	validator *validator.Validate
}

type ValidationError struct {
	error
	Field string
	Tag   string
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		var validateErrors validator.ValidationErrors
		if errors.As(err, &validateErrors) && len(validateErrors) > 0 {
			first := validateErrors[0]
			return ValidationError{
				error: err,
				Field: first.Field(),
				Tag:   first.Tag(),
			}
		}

		return err
	}

	return nil
}

func New(args *Args) (*Server, error) {
	if args.Addr == "" {
		return nil, fmt.Errorf("addr must be set")
	}

	if args.Identity == nil {
		return nil, fmt.Errorf("identity must be set")
	}

	if args.Logger == nil {
		args.Logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Pre(middleware.RemoveTrailingSlash())
	e.Pre(slogecho.New(args.Logger))
	e.Use(middleware.Recover())
	e.Use(unescapeParams)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	vdtor := validator.New()
	if err := vdtor.RegisterValidation("ethr-did", func(fl validator.FieldLevel) bool {
		_, err := did.Parse(fl.Field().String())
		return err == nil
	}); err != nil {
		return nil, fmt.Errorf("failed to register ethr-did validation: %w", err)
	}

	e.Validator = &CustomValidator{validator: vdtor}

	s := &Server{
		echo:      e,
		identity:  args.Identity,
		logger:    args.Logger,
		version:   args.Version,
		histories: map[historyKey][]ethrdid.SignedMessage{},
	}

	s.httpd = &http.Server{
		Addr:              args.Addr,
		Handler:           otelhttp.NewHandler(e, "ethrdid"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.addRoutes()

	return s, nil
}

func (s *Server) addRoutes() {
	s.echo.GET("/health", s.handleHealth)

	s.echo.POST("/dids", s.handleCreateDID)
	s.echo.GET("/dids/:did", s.handleResolveDID)
	s.echo.GET("/dids/:did/validity", s.handleValidateDID)
	s.echo.GET("/dids/:did/balance", s.handleBalance)
	s.echo.GET("/dids/:did/attributes", s.handleListAttributes)
	s.echo.POST("/dids/:did/register", s.handleRegisterDID)
	s.echo.POST("/dids/:did/attributes", s.handleAddAttribute)
	s.echo.POST("/dids/:did/ownership", s.handleVerifyOwnership)
	s.echo.POST("/dids/:did/messages", s.handleSendMessage)
	s.echo.GET("/dids/:did/messages", s.handleListMessages)

	s.echo.POST("/messages/verify", s.handleVerifyMessage)
}

// unescapeParams decodes percent-encoded path params, so a DID sent as
// did%3Aethr%3A... binds the same as did:ethr:....
func unescapeParams(next echo.HandlerFunc) echo.HandlerFunc {
	return func(e echo.Context) error {
		values := e.ParamValues()
		if len(values) == 0 {
			return next(e)
		}

		unescaped := make([]string, len(values))
		for i, v := range values {
			u, err := url.PathUnescape(v)
			if err != nil {
				return inputError(e, err)
			}
			unescaped[i] = u
		}
		e.SetParamValues(unescaped...)

		return next(e)
	}
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpd.Handler
}

// Serve listens until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "addr", s.httpd.Addr)
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info("shutting down server")
	return s.httpd.Shutdown(shutdownCtx)
}

// record keeps an accepted message. Only accepted messages are retained;
// no private key is ever stored.
func (s *Server) record(msg ethrdid.SignedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := historyKey{did: msg.DID, signer: msg.Signer}
	s.histories[key] = append(s.histories[key], msg)
}

func (s *Server) history(didStr string) []ethrdid.SignedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ethrdid.SignedMessage
	for key, msgs := range s.histories {
		if key.did == didStr {
			out = append(out, msgs...)
		}
	}
	return out
}
