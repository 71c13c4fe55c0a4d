package configfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
)

// DefaultRoot is the configfs directory of the kernel lock manager cluster.
const DefaultRoot = "/sys/kernel/config/dlm/cluster"

const (
	commsDir  = "comms"
	spacesDir = "spaces"

	nodeIDFile = "nodeid"
	addrFile   = "addr"
	localFile  = "local"
)

func New(root string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		return nil, fmt.Errorf("new configfs registry, logger is nil")
	}
	if root == "" {
		root = DefaultRoot
	}

	return &Registry{
		root:   root,
		logger: logger.With("component", "configfs"),
	}, nil
}

// Registry keeps one comms/<id> directory per cluster member, holding the
// node ID, its address and a local flag for the running node.
type Registry struct {
	root   string
	logger *slog.Logger
}

// Clear removes every comms and spaces entry left by a previous run
func (r *Registry) Clear(_ context.Context) error {
	var errs []error
	for _, dir := range []string{commsDir, spacesDir} {
		entries, err := os.ReadDir(filepath.Join(r.root, dir))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("configfs clear %s: %w", dir, err))
			continue
		}

		for _, e := range entries {
			path := filepath.Join(r.root, dir, e.Name())
			if err := os.RemoveAll(path); err != nil {
				errs = append(errs, fmt.Errorf("configfs clear: %w", err))
				continue
			}
			r.logger.Debug("removed stale entry", "path", path)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) AddEntry(_ context.Context, id int, addr []byte, local bool) error {
	dir := r.nodeDir(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("configfs add node %d: %w", id, err)
	}

	if err := writeAttr(dir, nodeIDFile, []byte(strconv.Itoa(id))); err != nil {
		return fmt.Errorf("configfs add node %d: %w", id, err)
	}
	if err := writeAttr(dir, addrFile, addr); err != nil {
		return fmt.Errorf("configfs add node %d: %w", id, err)
	}
	if local {
		if err := writeAttr(dir, localFile, []byte("1")); err != nil {
			return fmt.Errorf("configfs add node %d: %w", id, err)
		}
	}

	r.logger.Debug("added node", "node", id, "local", local)
	return nil
}

// RemoveEntry removes the directory of a node, a node without one is ignored
func (r *Registry) RemoveEntry(_ context.Context, id int) error {
	if err := os.RemoveAll(r.nodeDir(id)); err != nil {
		return fmt.Errorf("configfs remove node %d: %w", id, err)
	}

	r.logger.Debug("removed node", "node", id)
	return nil
}

func (r *Registry) nodeDir(id int) string {
	return filepath.Join(r.root, commsDir, strconv.Itoa(id))
}

func writeAttr(dir, name string, value []byte) error {
	return os.WriteFile(filepath.Join(dir, name), value, 0o644)
}
