// Package health reports liveness and readiness over HTTP and the standard
// grpc.health.v1 service.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultPingTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Checker backs GET /healthz, GET /readyz and the gRPC health service.
type Checker struct {
	pinger  Pinger
	timeout time.Duration
	grpc    *grpchealth.Server
}

// NewChecker returns a Checker. A nil pinger means the service has no
// external dependency and is always ready.
func NewChecker(pinger Pinger) *Checker {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return &Checker{pinger: pinger, timeout: defaultPingTimeout, grpc: hs}
}

// Ready pings the store and mirrors the result into the gRPC status.
func (h *Checker) Ready(ctx context.Context) error {
	if h.pinger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	err := h.pinger.PingContext(ctx)
	if err != nil {
		h.grpc.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	h.grpc.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Live always answers 200 while the process serves requests.
func (h *Checker) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness answers 200 when the store is reachable and 503 otherwise.
func (h *Checker) Readiness(c *gin.Context) {
	if err := h.Ready(c.Request.Context()); err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// GRPCServer returns the health service to register on a gRPC server.
func (h *Checker) GRPCServer() *grpchealth.Server {
	return h.grpc
}

// Shutdown marks every service NOT_SERVING so load balancers drain the
// instance before it stops.
func (h *Checker) Shutdown() {
	h.grpc.Shutdown()
}
