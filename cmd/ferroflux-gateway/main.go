// Command ferroflux-gateway is the thin HTTP listener convenience binary
// (spec SPEC_FULL.md §C): it accepts POST /webhooks/{node_id} and pushes the
// request body onto an internal/gateway.Gateway exactly as cmd/ferroflux's
// own in-process Gateway would. It is a standalone demonstration of the
// ingress contract — a real deployment runs this HTTP front end in the same
// process as the core engine (or forwards accepted tickets to it over an
// operator-chosen transport) so the topology.Router it resolves against is
// the live one cmd/ferroflux maintains; no such wiring exists here, since
// per-connector wire protocols between separate processes are out of scope.
package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/ferroflux/ferroflux/internal/blobstore"
	"github.com/ferroflux/ferroflux/internal/config"
	"github.com/ferroflux/ferroflux/internal/gateway"
	"github.com/ferroflux/ferroflux/internal/telemetry"
	"github.com/ferroflux/ferroflux/internal/ticket"
	"github.com/ferroflux/ferroflux/internal/topology"
)

const maxWebhookBody = 1 << 20 // 1 MiB

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := telemetry.NewNoopLogger()

	router := topology.NewRouter()
	queues := ticket.NewQueues()
	store := blobstore.New()
	gw := gateway.New(cfg.WebhookQueueCapacity, router, queues, store, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Post("/webhooks/{node_id}", webhookHandler(gw))

	srv := &http.Server{
		Addr:    cfg.GatewayAddr,
		Handler: r,
	}

	go func() {
		log.Printf("ferroflux-gateway listening on %s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}

type webhookAccepted struct {
	TicketID uuid.UUID `json:"ticket_id"`
}

func webhookHandler(gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		nodeID, err := uuid.Parse(chi.URLParam(req, "node_id"))
		if err != nil {
			http.Error(w, "invalid node_id", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody+1))
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		if len(body) > maxWebhookBody {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}

		metadata := map[string]string{"source": "webhook", "remote_addr": req.RemoteAddr}
		ticketID, ok, err := gw.Push(req.Context(), nodeID, body, metadata)
		if err != nil {
			http.Error(w, "store payload", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "ingress queue full", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(webhookAccepted{TicketID: ticketID})
	}
}
