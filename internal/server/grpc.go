package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"ChallengeEngine/internal/observability"
	"ChallengeEngine/internal/query"
)

// Server hosts the gRPC endpoint (health, reflection) and the HTTP/JSON
// query API. Query routes are registered directly on the gateway mux; the
// engine's only read surface is the projection-backed status API, so no
// generated service stubs are involved.
type Server struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	queryService  *query.QueryService
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
	log           zerolog.Logger
}

func New(grpcAddr, httpAddr string, qs *query.QueryService, hc *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		queryService:  qs,
		healthChecker: hc,
		metrics:       metrics,
		log:           log,
	}
}

// StartGRPC starts the gRPC server (blocking).
func (s *Server) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTP starts the HTTP/JSON API (blocking).
func (s *Server) StartHTTP(ctx context.Context) error {
	mux := runtime.NewServeMux()

	if err := mux.HandlePath("GET", "/v1/challenges/{challenge_id}/status", s.handleChallengeStatus); err != nil {
		return fmt.Errorf("register status route: %w", err)
	}
	if err := mux.HandlePath("GET", "/v1/accounts/{account_id}/challenges", s.handleAccountChallenges); err != nil {
		return fmt.Errorf("register account route: %w", err)
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.httpAddr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleChallengeStatus(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	endpoint := "challenge_status"

	challengeID, err := uuid.Parse(pathParams["challenge_id"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, "invalid challenge_id")
		return
	}

	resp, err := s.queryService.GetChallengeStatus(r.Context(), challengeID)
	if errors.Is(err, query.ErrNotFound) {
		s.writeError(w, endpoint, http.StatusNotFound, "challenge not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("challenge_id", challengeID.String()).Msg("status query failed")
		s.writeError(w, endpoint, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, endpoint, http.StatusOK, resp)
	s.observe(endpoint, start)
}

func (s *Server) handleAccountChallenges(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	endpoint := "account_challenges"

	accountID, err := uuid.Parse(pathParams["account_id"])
	if err != nil {
		s.writeError(w, endpoint, http.StatusBadRequest, "invalid account_id")
		return
	}

	resp, err := s.queryService.ListAccountChallenges(r.Context(), accountID)
	if err != nil {
		s.log.Error().Err(err).Str("account_id", accountID.String()).Msg("account query failed")
		s.writeError(w, endpoint, http.StatusInternalServerError, "internal error")
		return
	}

	s.writeJSON(w, endpoint, http.StatusOK, resp)
	s.observe(endpoint, start)
}

func (s *Server) writeJSON(w http.ResponseWriter, endpoint string, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, fmt.Sprintf("%d", code)).Inc()
	}
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, code int, msg string) {
	s.writeJSON(w, endpoint, code, map[string]string{"error": msg})
}

func (s *Server) observe(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
