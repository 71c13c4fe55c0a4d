package vote

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/danl5/gomember/pkg/model"
)

// PrefixExempt returns a predicate matching lock space names that start with
// prefix. An empty prefix matches nothing.
func PrefixExempt(prefix string) func(name string) bool {
	return func(name string) bool {
		return prefix != "" && strings.HasPrefix(name, prefix)
	}
}

// NewPolicy creates a shutdown vote policy. exempt reports the lock spaces
// that never block a cluster shutdown, nil exempts nothing.
func NewPolicy(exempt func(name string) bool, logger *slog.Logger) (*Policy, error) {
	if logger == nil {
		return nil, fmt.Errorf("new policy, logger is nil")
	}
	if exempt == nil {
		exempt = PrefixExempt("")
	}

	return &Policy{
		exempt: exempt,
		logger: logger.With("component", "vote"),
	}, nil
}

// Policy decides whether the local node allows a cluster shutdown
type Policy struct {
	exempt func(name string) bool
	logger *slog.Logger
}

// Decide scans the active lock spaces and returns true to approve the
// shutdown. The first lock space that is not exempt vetoes it and ends the
// scan. A lock space list that can not be read vetoes as well.
func (p *Policy) Decide(lockspaces model.LockSpaces) bool {
	approve := true
	err := lockspaces.Range(func(name string) bool {
		if p.exempt(name) {
			return true
		}
		p.logger.Info("lock space blocks cluster shutdown", "lockspace", name)
		approve = false
		return false
	})
	if err != nil {
		p.logger.Error("failed to list lock spaces", "error", err.Error())
		return false
	}

	return approve
}
