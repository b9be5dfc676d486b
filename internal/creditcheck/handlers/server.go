// Package handlers provides the HTTP and gRPC servers for the credit check
// service, bridging the transport layer and the business logic.
package handlers

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gartstein/creditcheck/internal/creditcheck/auth"
	"github.com/gartstein/creditcheck/internal/creditcheck/models"
	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// CreditCheckController defines the business logic interface
// that the HTTP handlers will invoke.
type CreditCheckController interface {
	PurchaseAndSave(ctx context.Context, req *models.PurchaseRequest) (*models.CreditCheck, error)
	GetCreditCheck(ctx context.Context, clientID int64, id uuid.UUID) (*models.CreditCheck, error)
	ListCreditChecks(ctx context.Context, clientID int64, filter models.CreditCheckFilter) ([]models.CreditCheck, error)
	ListRiskInfos(ctx context.Context, clientID int64, filter models.InfoFilter) ([]models.CreditCheckInfo, error)
	GetDocument(ctx context.Context, clientID int64, id uuid.UUID) ([]byte, error)
	DeleteCreditCheck(ctx context.Context, clientID int64, id uuid.UUID) error
}

// serviceName is the name reported by the gRPC health service.
const serviceName = "creditcheck.v1.CreditCheckService"

// Server holds references to both a gRPC server and an HTTP server.
type Server struct {
	grpcServer   *grpc.Server
	health       *health.Server
	httpServer   *http.Server
	logger       *zap.Logger
	grpcEndpoint string
	httpEndpoint string
}

// NewServer constructs a Server with separate endpoints for gRPC and HTTP.
// The gRPC server exposes the health and reflection services.
func NewServer(
	grpcPort int,
	httpPort int,
	logger *zap.Logger,
	grpcOpts ...grpc.ServerOption,
) *Server {
	grpcServer := grpc.NewServer(grpcOpts...)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)

	return &Server{
		grpcServer:   grpcServer,
		health:       healthServer,
		httpServer:   &http.Server{ReadHeaderTimeout: 10 * time.Second},
		logger:       logger.Named("server"),
		grpcEndpoint: fmt.Sprintf(":%d", grpcPort),
		httpEndpoint: fmt.Sprintf(":%d", httpPort),
	}
}

type route struct {
	method  string
	pattern string
	handler runtime.HandlerFunc
}

// RegisterHTTPGateway sets up the HTTP routes behind the JWT middleware.
// metricsHandler is served unauthenticated on /metrics when not nil.
func (s *Server) RegisterHTTPGateway(h *CreditCheckHandler, jwtSecret string, metricsHandler http.Handler) error {
	mux := runtime.NewServeMux()

	routes := []route{
		{http.MethodPost, "/v1/credit-checks", h.PurchaseCreditCheck},
		{http.MethodGet, "/v1/credit-checks", h.ListCreditChecks},
		{http.MethodGet, "/v1/credit-checks/{id}", h.GetCreditCheck},
		{http.MethodGet, "/v1/credit-checks/{id}/document", h.GetDocument},
		{http.MethodDelete, "/v1/credit-checks/{id}", h.DeleteCreditCheck},
		{http.MethodGet, "/v1/risk-infos", h.ListRiskInfos},
		{http.MethodGet, "/healthz", s.healthz},
	}
	if metricsHandler != nil {
		routes = append(routes, route{http.MethodGet, "/metrics", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			metricsHandler.ServeHTTP(w, r)
		}})
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return fmt.Errorf("register %s %s: %w", rt.method, rt.pattern, err)
		}
	}

	s.httpServer.Handler = auth.HTTPMiddleware(mux, jwtSecret)
	s.httpServer.Addr = s.httpEndpoint
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := s.health.Check(r.Context(), &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "serving"})
}

// Start runs the gRPC and HTTP servers concurrently, returning on the first error.
func (s *Server) Start() error {
	var wg sync.WaitGroup
	wg.Add(2)
	errChan := make(chan error, 2)

	s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	// Start gRPC Server
	go func() {
		defer wg.Done()
		s.logger.Info("Starting gRPC server", zap.String("endpoint", s.grpcEndpoint))
		lis, err := net.Listen("tcp", s.grpcEndpoint)
		if err != nil {
			errChan <- fmt.Errorf("gRPC listen error: %w", err)
			return
		}
		if err := s.grpcServer.Serve(lis); err != nil {
			errChan <- fmt.Errorf("gRPC serve error: %w", err)
		}
	}()

	// Start HTTP Server
	go func() {
		defer wg.Done()
		s.logger.Info("Starting HTTP server", zap.String("endpoint", s.httpEndpoint))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP serve error: %w", err)
		}
	}()

	go func() {
		wg.Wait()
		close(errChan)
	}()

	for err := range errChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down both gRPC and HTTP servers. In-flight purchases
// are given the shutdown timeout to finish.
func (s *Server) Stop(timeout time.Duration) {
	s.logger.Info("Shutting down servers...")
	s.health.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	s.grpcServer.GracefulStop()

	s.logger.Info("Servers stopped")
}
