package etcd

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/danl5/gomember/pkg/model"
)

const (
	defaultPrefix      = "/gomember"
	defaultDialTimeout = 5 * time.Second
	defaultLeaseTTL    = 10
)

// Config describes the etcd cluster and the record the local node registers
type Config struct {
	// Endpoints are the etcd client endpoints
	Endpoints []string `json:"endpoints"`
	// Prefix is the key space shared by the cluster, /gomember by default
	Prefix string `json:"prefix,omitempty"`
	// DialTimeout bounds the initial connection, 5s by default
	DialTimeout time.Duration `json:"dial_timeout,omitempty"`
	// LeaseTTL is the lifetime in seconds of the node registration lease
	LeaseTTL int64 `json:"lease_ttl,omitempty"`
	// Node is the record registered for the local node
	Node model.Node `json:"node"`
	// ClientLogger receives the etcd client logs, discarded when nil
	ClientLogger *zap.Logger `json:"-"`
}

func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return errors.New("no etcd endpoints configured")
	}
	if err := c.Node.Validate(); err != nil {
		return err
	}
	if c.LeaseTTL < 0 {
		return errors.New("lease ttl must not be negative")
	}
	return nil
}

func (c *Config) prefix() string {
	if c.Prefix == "" {
		return defaultPrefix
	}
	return strings.TrimSuffix(c.Prefix, "/")
}

func (c *Config) dialTimeout() time.Duration {
	if c.DialTimeout == 0 {
		return defaultDialTimeout
	}
	return c.DialTimeout
}

func (c *Config) leaseTTL() int64 {
	if c.LeaseTTL == 0 {
		return defaultLeaseTTL
	}
	return c.LeaseTTL
}

func (c *Config) clientLogger() *zap.Logger {
	if c.ClientLogger == nil {
		return zap.NewNop()
	}
	return c.ClientLogger
}
