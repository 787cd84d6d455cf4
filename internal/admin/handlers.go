// Package admin provides a small introspection and control HTTP surface
// over a running failover transport (SPEC_FULL.md §7.4/§9), grounded on
// acamarata-nself-tv/backend/antserver/internal/handlers's Handler/
// RegisterRoutes shape.
package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/antmq/failover/internal/audit"
	"github.com/antmq/failover/internal/failover"
	"github.com/antmq/failover/internal/wire"
)

func strconvAtoi(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

func wireMessageId(producerID string, seq int64) wire.MessageId {
	return wire.MessageId{ProducerId: producerID, Sequence: seq}
}

// Handler exposes read-only status and a rebalance trigger for a
// Transport.
type Handler struct {
	Transport *failover.Transport
	Audit     *audit.Audit
}

// New creates a Handler wrapping ft. aud may be nil if duplicate-audit
// introspection is not wired up.
func New(ft *failover.Transport, aud *audit.Audit) *Handler {
	return &Handler{Transport: ft, Audit: aud}
}

// RegisterRoutes wires the admin routes onto rg.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/healthz", h.Healthz)
	rg.GET("/status", h.Status)
	rg.GET("/pools", h.Pools)
	rg.GET("/audit/:producerID", h.AuditProducer)
	rg.POST("/rebalance", h.Rebalance)
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Healthz reports liveness: 200 if connected, 503 otherwise.
func (h *Handler) Healthz(c *gin.Context) {
	if h.Transport.IsConnected() {
		c.JSON(http.StatusOK, gin.H{"status": "connected"})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "disconnected"})
}

// StatusResponse is the JSON body of GET /status.
type StatusResponse struct {
	Connected           bool   `json:"connected"`
	Closed              bool   `json:"closed"`
	ConnectedToPriority bool   `json:"connected_to_priority"`
	FaultTolerant       bool   `json:"fault_tolerant"`
	ReconnectSupported  bool   `json:"reconnect_supported"`
	ConnectionFailure   string `json:"connection_failure,omitempty"`
}

// Status reports the transport's current connection state.
func (h *Handler) Status(c *gin.Context) {
	resp := StatusResponse{
		Connected:           h.Transport.IsConnected(),
		Closed:              h.Transport.IsClosed(),
		ConnectedToPriority: h.Transport.ConnectedToPriority(),
		FaultTolerant:       h.Transport.IsFaultTolerant(),
		ReconnectSupported:  h.Transport.IsReconnectSupported(),
	}
	if err := h.Transport.ConnectionFailure(); err != nil {
		resp.ConnectionFailure = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// PoolsResponse is the JSON body of GET /pools.
type PoolsResponse struct {
	URIs       []string `json:"uris"`
	CurrentURI string   `json:"current_uri,omitempty"`
	Backups    int      `json:"backups"`
}

// Pools reports the active URI pool membership and backup count.
func (h *Handler) Pools(c *gin.Context) {
	c.JSON(http.StatusOK, PoolsResponse{
		URIs:       h.Transport.PoolURIs(),
		CurrentURI: h.Transport.CurrentURI(),
		Backups:    h.Transport.BackupCount(),
	})
}

// AuditProducer reports whether a given producer/sequence pair has been
// seen before by the duplicate-detection window.
func (h *Handler) AuditProducer(c *gin.Context) {
	if h.Audit == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "audit not enabled"})
		return
	}
	producerID := c.Param("producerID")
	seq, err := strconvAtoi(c.Query("seq"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "seq query parameter must be an integer"})
		return
	}

	id := wireMessageId(producerID, seq)
	c.JSON(http.StatusOK, gin.H{
		"producer_id": producerID,
		"sequence":    seq,
		"duplicate":   h.Audit.IsDuplicate(id),
		"in_order":    h.Audit.IsInOrder(id),
	})
}

// Rebalance forces a disconnect/reconnect to rebalance onto a preferred
// URI (spec.md §4.7).
func (h *Handler) Rebalance(c *gin.Context) {
	h.Transport.RequestRebalance()
	c.JSON(http.StatusAccepted, gin.H{"status": "rebalance requested"})
}
