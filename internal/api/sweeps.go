package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/screenwatch/internal/screens"
)

var errSweepFinished = errors.New("sweep already finished")

func (s *Server) submitSweep(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "product_id")
	if _, err := s.deps.Repo.GetProduct(r.Context(), productID); err != nil {
		s.writeStoreError(w, err, "product")
		return
	}
	sweep, err := s.enqueueSweep(r.Context(), productID)
	if err != nil {
		s.logger.Error("submit sweep failed", zap.String("product_id", productID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, sweep)
}

func (s *Server) enqueueSweep(ctx context.Context, productID string) (screens.Sweep, error) {
	sweepID, err := s.deps.IDs.NewID()
	if err != nil {
		return screens.Sweep{}, fmt.Errorf("generate sweep id: %w", err)
	}
	now := s.deps.Clock.Now()
	sweep := screens.Sweep{
		ID:        sweepID,
		ProductID: productID,
		Status:    screens.SweepStatusQueued,
		Submitted: now,
	}
	if err := s.deps.Repo.CreateSweep(ctx, sweep); err != nil {
		return screens.Sweep{}, fmt.Errorf("create sweep: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := screens.QueueItem{
		SweepID:   sweepID,
		ProductID: productID,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.deps.Queue.Enqueue(queueCtx, item); err != nil {
		// Leave no sweep stuck in queued when nothing will ever run it.
		markErr := s.deps.Repo.UpdateSweepStatus(context.WithoutCancel(ctx), sweepID,
			screens.SweepStatusFailed, "enqueue failed: "+err.Error(), screens.SweepCounters{})
		if markErr != nil {
			s.logger.Error("mark unqueued sweep failed", zap.String("sweep_id", sweepID), zap.Error(markErr))
		}
		return screens.Sweep{}, fmt.Errorf("enqueue sweep: %w", err)
	}
	return sweep, nil
}

func (s *Server) getSweep(w http.ResponseWriter, r *http.Request) {
	sweep, err := s.deps.Repo.GetSweep(r.Context(), chi.URLParam(r, "sweep_id"))
	if err != nil {
		s.writeStoreError(w, err, "sweep")
		return
	}
	writeJSON(w, http.StatusOK, sweep)
}

func (s *Server) latestSweep(w http.ResponseWriter, r *http.Request) {
	sweep, err := s.deps.Repo.LatestSweep(r.Context(), chi.URLParam(r, "product_id"))
	if err != nil {
		s.writeStoreError(w, err, "sweep")
		return
	}
	writeJSON(w, http.StatusOK, sweep)
}

// cancelSweep stops a running sweep through the worker registry, or marks a
// queued one canceled so workers skip it on dequeue.
func (s *Server) cancelSweep(w http.ResponseWriter, r *http.Request) {
	sweepID := chi.URLParam(r, "sweep_id")
	sweep, err := s.deps.Repo.GetSweep(r.Context(), sweepID)
	if err != nil {
		s.writeStoreError(w, err, "sweep")
		return
	}
	if sweep.Status.IsTerminal() {
		writeError(w, http.StatusConflict, errSweepFinished.Error())
		return
	}
	if s.deps.Canceler != nil && s.deps.Canceler.Cancel(sweepID) {
		writeJSON(w, http.StatusAccepted, map[string]string{"sweep_id": sweepID, "status": "canceling"})
		return
	}
	if err := s.deps.Repo.UpdateSweepStatus(r.Context(), sweepID,
		screens.SweepStatusCanceled, "canceled via API", sweep.Counters); err != nil {
		s.writeStoreError(w, err, "sweep")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sweep_id": sweepID, "status": string(screens.SweepStatusCanceled)})
}
