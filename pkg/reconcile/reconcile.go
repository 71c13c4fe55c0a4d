package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/danl5/gomember/internal/telemetry"
	"github.com/danl5/gomember/pkg/common"
	"github.com/danl5/gomember/pkg/model"
	"github.com/danl5/gomember/pkg/snapshot"
)

// NewReconciler creates a reconciler that keeps registry in line with cluster
// membership on behalf of the local node.
func NewReconciler(registry model.ResourceRegistry, localID int, logger *slog.Logger) (*Reconciler, error) {
	if registry == nil {
		return nil, fmt.Errorf("new reconciler, registry is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new reconciler, logger is nil")
	}

	return &Reconciler{
		registry: registry,
		localID:  localID,
		logger:   logger.With("component", "reconciler"),
	}, nil
}

// Reconciler translates membership deltas into resource registry calls
type Reconciler struct {
	// registry receives the add and remove calls
	registry model.ResourceRegistry
	// localID is the node ID of the running process
	localID int
	// logger
	logger *slog.Logger
}

// Reconcile installs next in the store and applies the resulting delta to the
// registry. Every removal is issued before the first addition. A failed
// registry call is logged and the pass carries on with the remaining nodes.
func (r *Reconciler) Reconcile(ctx context.Context, store *snapshot.Store, next snapshot.Snapshot) snapshot.Delta {
	store.Replace(next)
	delta := snapshot.Diff(store.Previous(), store.Current())

	for _, n := range delta.Left {
		r.logger.Debug("node removed", "node", n.ID)
		err := r.registry.RemoveEntry(ctx, n.ID)
		telemetry.RegistryOps.WithLabelValues(common.RegistryRemove.String(), telemetry.Result(err)).Inc()
		if err != nil {
			r.logger.Error("failed to remove registry entry", "node", n.ID, "error", err.Error())
		}
	}

	for _, n := range delta.Joined {
		local := n.ID == r.localID
		r.logger.Debug("node added", "node", n.ID, "local", local)
		err := r.registry.AddEntry(ctx, n.ID, n.Address, local)
		telemetry.RegistryOps.WithLabelValues(common.RegistryAdd.String(), telemetry.Result(err)).Inc()
		if err != nil {
			r.logger.Error("failed to add registry entry", "node", n.ID, "error", err.Error())
		}
	}

	members := 0
	for _, n := range store.Current().Nodes() {
		if n.Member {
			members++
		}
	}
	telemetry.Members.Set(float64(members))
	telemetry.ReconcilePasses.Inc()

	return delta
}
