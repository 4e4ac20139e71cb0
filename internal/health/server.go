package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/devblac/reward-tower/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 5 * time.Second

type Checker struct {
	DBPing  func(ctx context.Context) error
	RPCPing func(ctx context.Context) error
	// Balances backs /campaigns/{id}/balances; the route is absent when nil.
	Balances func(ctx context.Context, campaignID uint32) ([]model.ParticipantBalance, error)
}

type balanceRow struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
}

// Router builds the ops surface.
func Router(checker Checker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		if checker.DBPing != nil {
			if err := checker.DBPing(ctx); err != nil {
				status["db"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["db"] = "ok"
			}
		}
		if checker.RPCPing != nil {
			if err := checker.RPCPing(ctx); err != nil {
				status["rpc"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["rpc"] = "ok"
			}
		}

		writeJSON(w, code, status)
	})

	if checker.Balances != nil {
		r.Get("/campaigns/{id}/balances", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "campaign id must be a u32"})
				return
			}
			balances, err := checker.Balances(r.Context(), uint32(id))
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			rows := make([]balanceRow, 0, len(balances))
			for _, b := range balances {
				rows = append(rows, balanceRow{Address: b.Address, Balance: b.Balance.String()})
			}
			writeJSON(w, http.StatusOK, map[string]any{"campaign_id": id, "participants": rows})
		})
	}

	return r
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// NewServer builds the ops server without starting it.
func NewServer(addr string, checker Checker) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Router(checker),
		ReadHeaderTimeout: 3 * time.Second,
	}
}

// Run serves srv until ctx is done and then shuts it down gracefully.
// A listen failure such as a taken port is returned instead of dropped.
func Run(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
		}
		return nil
	}
}
