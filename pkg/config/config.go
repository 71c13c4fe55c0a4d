package config

import (
	"errors"
	"time"
)

// Config represents the membership engine config
type Config struct {
	// MaxNodes is the capacity of a membership snapshot
	MaxNodes int `json:"max_nodes,omitempty"`
	// ExemptPrefix marks lock spaces that never block a cluster shutdown,
	// it is ignored when Exempt is set
	ExemptPrefix string `json:"exempt_prefix,omitempty"`
	// Exempt reports whether a lock space never blocks a cluster shutdown
	Exempt func(name string) bool `json:"-"`
	// FetchTimeout bounds a single snapshot fetch
	FetchTimeout time.Duration `json:"fetch_timeout,omitempty"`
}

func (c *Config) Validate() error {
	if c.MaxNodes <= 0 {
		return errors.New("max nodes must be positive")
	}
	if c.FetchTimeout <= 0 {
		return errors.New("fetch timeout must be positive")
	}
	return nil
}
