package gomember

import (
	"context"
	"log/slog"
	"time"

	"github.com/danl5/gomember/internal/telemetry"
	"github.com/danl5/gomember/pkg/common"
	"github.com/danl5/gomember/pkg/model"
	"github.com/danl5/gomember/pkg/reconcile"
	"github.com/danl5/gomember/pkg/snapshot"
	"github.com/danl5/gomember/pkg/vote"
)

// handler routes dispatched events to the reconciler and the vote policy
type handler struct {
	session      model.Session
	reconciler   *reconcile.Reconciler
	policy       *vote.Policy
	lockspaces   model.LockSpaces
	store        *snapshot.Store
	maxNodes     int
	fetchTimeout time.Duration
	logger       *slog.Logger
}

// HandleStateChange fetches the node list and reconciles it. A list that can
// not be fetched abandons the pass and leaves the store as it was.
func (h *handler) HandleStateChange(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, h.fetchTimeout)
	defer cancel()

	nodes, err := h.session.Nodes(fetchCtx, h.maxNodes)
	if err != nil {
		telemetry.SnapshotFetchErrors.Inc()
		h.logger.Error("member, failed to get node list", "error", err.Error())
		return
	}

	next, err := snapshot.New(nodes, h.maxNodes)
	if err != nil {
		telemetry.SnapshotFetchErrors.Inc()
		h.logger.Error("member, invalid node list", "error", err.Error())
		return
	}

	delta := h.reconciler.Reconcile(ctx, h.store, next)
	h.logger.Debug("member, membership reconciled",
		"nodes", next.Len(), "joined", len(delta.Joined), "left", len(delta.Left))
}

// HandleTryShutdown votes on a cluster shutdown and sends exactly one reply
func (h *handler) HandleTryShutdown(ctx context.Context) {
	approve := h.policy.Decide(h.lockspaces)
	decision := common.Decision(approve)
	telemetry.ShutdownVotes.WithLabelValues(decision.String()).Inc()

	if err := h.session.ReplyToShutdown(ctx, approve); err != nil {
		h.logger.Error("member, failed to reply to shutdown", "vote", decision.String(), "error", err.Error())
		return
	}
	h.logger.Info("member, replied to shutdown", "vote", decision.String())
}
