package config

import (
	"fmt"
	"net/url"
)

var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate performs fail-fast validation with sentinel errors.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if err := validateHTTPURL(c.BackendURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBackendURL, err)
	}
	if err := validateHTTPURL(c.ToolServerURL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToolServer, err)
	}

	if c.SendTimeout < MinSendTimeout || c.SendTimeout > MaxSendTimeout {
		return fmt.Errorf("%w: %v (must be between %v and %v)",
			ErrInvalidSendTimeout, c.SendTimeout, MinSendTimeout, MaxSendTimeout)
	}

	if c.UserID == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidUserID)
	}
	if c.AgentSlug == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidAgentSlug)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (must be 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidPostgresDB)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidSSLMode, c.PostgresSSLMode)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
