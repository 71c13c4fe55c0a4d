package rpc

import (
	"errors"
	"fmt"
	"time"
)

const (
	// poll interval of a client session, in milliseconds
	defaultPollInterval = 100
)

// Config holds the TLS material and timings of the membership rpc transport
type Config struct {
	// ServerCAs are the root certificate authorities the server uses to
	// verify client certificates.
	ServerCAs        []string `json:"server_cas"`
	ServerKey        string   `json:"server_key"`
	ServerCert       string   `json:"server_cert"`
	ServerSkipVerify bool     `json:"server_skip_verify"`

	// ClientCAs are the root certificate authorities the client uses to
	// verify the server certificate.
	ClientCAs        []string `json:"client_cas"`
	ClientCert       string   `json:"client_cert"`
	ClientKey        string   `json:"client_key"`
	ClientSkipVerify bool     `json:"client_skip_verify"`
	// ConnectTimeout bounds a dial to the membership server, in seconds.
	// Zero means no timeout.
	ConnectTimeout uint `json:"connect_timeout"`
	// PollInterval is how often a client session collects pending events,
	// in milliseconds.
	PollInterval uint `json:"poll_interval"`
}

func (c *Config) Validate() error {
	if err := validatePair(c.ServerCert, c.ServerKey, c.ServerSkipVerify, c.ServerCAs); err != nil {
		return fmt.Errorf("server, %w", err)
	}
	if err := validatePair(c.ClientCert, c.ClientKey, c.ClientSkipVerify, c.ClientCAs); err != nil {
		return fmt.Errorf("client, %w", err)
	}
	return nil
}

func (c *Config) connectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

func (c *Config) pollInterval() time.Duration {
	if c.PollInterval == 0 {
		return defaultPollInterval * time.Millisecond
	}
	return time.Duration(c.PollInterval) * time.Millisecond
}

// validatePair checks one side of the TLS setup. A side without a certificate
// runs plain TCP.
func validatePair(cert, key string, skipVerify bool, cas []string) error {
	switch {
	case cert == "" && key == "":
		return nil
	case cert == "" || key == "":
		return errors.New("incomplete certificate configuration")
	case !skipVerify && len(cas) == 0:
		return errors.New("no CAs configured")
	}
	return nil
}
