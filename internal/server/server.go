// Package server is the HTTP boundary: webhook ingress and the small
// payments API. Webhook processing is decoupled from acknowledgment so the
// gateway's retry timers are never triggered by slow ledger writes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"billing-workers/internal/common/logger"
	"billing-workers/internal/common/metrics"
	"billing-workers/internal/common/tasks"
	"billing-workers/internal/ledger"
)

const maxWebhookBody = 1 << 20

// LedgerAPI is the subset of the store used by the payments API.
type LedgerAPI interface {
	GetDueDate(ctx context.Context, userID int64) (time.Time, error)
}

// GatewayAPI creates manual payment links.
type GatewayAPI interface {
	CreatePaymentLink(ctx context.Context, userID int64) (string, error)
}

// Processor applies one raw webhook event.
type Processor interface {
	Process(ctx context.Context, raw []byte) error
}

type Server struct {
	ledger    LedgerAPI
	gateway   GatewayAPI
	processor Processor
	pool      *tasks.Pool
	logger    logger.Logger
	http      *http.Server
}

func New(addr string, ldg LedgerAPI, gw GatewayAPI, processor Processor, pool *tasks.Pool, log logger.Logger) *Server {
	s := &Server{
		ledger:    ldg,
		gateway:   gw,
		processor: processor,
		pool:      pool,
		logger:    log.WithFields(map[string]interface{}{"component": "server"}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/webhook/gateway", s.handleWebhook)
	mux.HandleFunc("GET /api/payments/link", s.handlePaymentLink)
	mux.HandleFunc("GET /api/payments/due_to", s.handleDueDate)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", map[string]interface{}{"addr": s.http.Addr})
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// handleWebhook acknowledges immediately and hands the event to the task
// pool. The response never depends on processing outcome; the gateway
// redelivers on its own schedule if processing was lost.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("webhook body read failed", map[string]interface{}{"error": err.Error()})
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error"})
		return
	}

	s.logger.Info("webhook received", map[string]interface{}{"bytes": len(body)})

	if ok := s.pool.Submit(func(ctx context.Context) error {
		return s.processor.Process(ctx, body)
	}); !ok {
		// Saturated queue: drop and count on gateway redelivery.
		metrics.WebhookQueueDropped.Inc()
		s.logger.Warn("webhook queue saturated, event dropped", nil)
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePaymentLink(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	link, err := s.gateway.CreatePaymentLink(r.Context(), userID)
	if err != nil {
		s.logger.Error("payment link creation failed", map[string]interface{}{
			"userId": userID,
			"error":  err.Error(),
		})
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "payment link creation failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"confirmation_url": link})
}

func (s *Server) handleDueDate(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDParam(w, r)
	if !ok {
		return
	}

	until, err := s.ledger.GetDueDate(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ledger.ErrSubscriptionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "subscription not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"until":   until.UTC().Format(time.RFC3339),
	})
}

func userIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("user_id")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id must be a positive integer"})
		return 0, false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
