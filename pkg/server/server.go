package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/levenlabs/go-lflag"

	"github.com/lumentreeinfo/lumentree/pkg/log"
	"github.com/lumentreeinfo/lumentree/pkg/metrics"
	"github.com/lumentreeinfo/lumentree/pkg/types"
)

const defaultProbeDevice = "P250801055"

// DeviceService serves aggregated device data.
type DeviceService interface {
	GetAllDeviceData(ctx context.Context, deviceID string, date time.Time) (types.DeviceData, error)
	Today(ctx context.Context, deviceID string) (types.TodaySummary, error)
	Summary(ctx context.Context, deviceID string, from, to time.Time) (types.RangeSummary, error)
	Now() time.Time
}

// ChartSource serves the passthrough chart data.
type ChartSource interface {
	Monthly(ctx context.Context, deviceID string) (json.RawMessage, error)
	SOC(ctx context.Context, deviceID, date string) (json.RawMessage, error)
}

// Prober is used by the connectivity check.
type Prober interface {
	BaseURL() string
	Ping(ctx context.Context) (int, string, error)
	GenerateToken(ctx context.Context, deviceID string) (string, error)
}

// tokenVerifier validates a Google ID token and returns its email claim.
type tokenVerifier func(ctx context.Context, rawIDToken string) (string, error)

// Server is the HTTP boundary of the gateway.
type Server struct {
	devices DeviceService
	charts  ChartSource
	prober  Prober
	hub     http.Handler

	listenAddr string
	httpServer *http.Server
	serverName string

	probeDevice string
	debugEmails []string
	verifyToken tokenVerifier
	lookupHost  func(ctx context.Context, host string) ([]string, error)
}

// Configured initializes the Server with its dependencies and registers its
// flags.
func Configured(devices DeviceService, charts ChartSource, prober Prober, hub http.Handler) *Server {
	srv := &Server{
		devices:    devices,
		charts:     charts,
		prober:     prober,
		hub:        hub,
		serverName: "lumentree",
		lookupHost: net.DefaultResolver.LookupHost,
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	probeDevice := lflag.String("debug-probe-device", defaultProbeDevice, "Device ID used by /debug/connectivity to test token generation")
	debugAudience := lflag.String("debug-oidc-audience", "", "Google ID token audience required for /debug endpoints (empty leaves them open)")
	debugEmails := lflag.String("debug-emails", "", "comma-delimited list of email addresses allowed to call /debug endpoints")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.probeDevice = *probeDevice
		if *debugEmails != "" {
			for _, email := range strings.Split(*debugEmails, ",") {
				srv.debugEmails = append(srv.debugEmails, strings.TrimSpace(email))
			}
		}
		if *debugAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), "https://accounts.google.com")
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize Google OIDC provider", slog.Any("error", err))
				os.Exit(1)
			}
			verifier := provider.Verifier(&oidc.Config{ClientID: *debugAudience})
			srv.verifyToken = func(ctx context.Context, raw string) (string, error) {
				idToken, err := verifier.Verify(ctx, raw)
				if err != nil {
					return "", err
				}
				var claims struct {
					Email         string `json:"email"`
					EmailVerified bool   `json:"email_verified"`
				}
				if err := idToken.Claims(&claims); err != nil {
					return "", err
				}
				if !claims.EmailVerified {
					return "", errors.New("email not verified")
				}
				return claims.Email, nil
			}
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "GET /device/{$}", s.handleMissingDevice)
	s.handle(mux, "GET /device/{deviceId}", s.handleDevice)
	s.handle(mux, "GET /device/{deviceId}/today", s.handleToday)
	s.handle(mux, "GET /device/{deviceId}/summary", s.handleSummary)
	s.handle(mux, "GET /device/{deviceId}/monthly", s.handleMonthly)
	s.handle(mux, "GET /device/{deviceId}/soc", s.handleSOC)
	mux.Handle("GET /debug/connectivity", s.debugAuthMiddleware(metrics.Middleware("GET /debug/connectivity", http.HandlerFunc(s.handleConnectivity))))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	root := http.NewServeMux()
	// the hub hijacks the connection so it must not sit behind gzip
	if s.hub != nil {
		root.Handle("/deviceHub", s.hub)
	}
	root.Handle("/", gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
	return s.revisionMiddleware(s.logMiddleware(root))
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, metrics.Middleware(pattern, h))
}

// Run starts the HTTP server and blocks until the context is canceled or an
// error occurs.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket clients are long-lived
		IdleTimeout:  15 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
