// Package tls obtains and renews certificates with CertMagic using the
// Azure DNS-01 challenge.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"
	"go.uber.org/zap"
)

// Config holds TLS configuration.
type Config struct {
	Enabled  bool
	Domains  []string
	Email    string
	CacheDir string
	Staging  bool // Use Let's Encrypt staging environment
	DNS      DNSConfig
}

// DNSConfig holds Azure DNS provider configuration for DNS-01 challenges.
type DNSConfig struct {
	SubscriptionID    string
	ResourceGroupName string
	ClientID          string // User Assigned Managed Identity client ID (optional)
}

// Validate checks that an enabled config can obtain certificates.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if len(c.Domains) == 0 {
		return errors.New("TLS enabled but no domains specified")
	}
	if c.Email == "" {
		return errors.New("TLS enabled but no email specified")
	}
	if c.DNS.SubscriptionID == "" || c.DNS.ResourceGroupName == "" {
		return errors.New("TLS enabled but Azure DNS subscription or resource group missing")
	}
	return nil
}

// Manager owns the certmagic configuration of the API server.
type Manager struct {
	config Config
	magic  *certmagic.Config
	logger *zap.Logger
}

// NewManager creates a certificate manager. It returns nil when TLS is
// disabled.
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With(zap.String("component", "tls"))

	magic := certmagic.NewDefault()
	magic.Logger = logger
	if cfg.CacheDir != "" {
		magic.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	ca := certmagic.LetsEncryptProductionCA
	if cfg.Staging {
		ca = certmagic.LetsEncryptStagingCA
	}

	provider := &azure.Provider{
		SubscriptionId:    cfg.DNS.SubscriptionID,
		ResourceGroupName: cfg.DNS.ResourceGroupName,
		ClientId:          cfg.DNS.ClientID, // Empty = System Assigned Managed Identity
	}

	issuer := certmagic.NewACMEIssuer(magic, certmagic.ACMEIssuer{
		CA:     ca,
		Email:  cfg.Email,
		Agreed: true,
		Logger: logger,
		DNS01Solver: &certmagic.DNS01Solver{
			DNSManager: certmagic.DNSManager{DNSProvider: provider},
		},
	})
	magic.Issuers = []certmagic.Issuer{issuer}

	return &Manager{
		config: cfg,
		magic:  magic,
		logger: logger,
	}, nil
}

// TLSConfig returns the server TLS configuration.
func (m *Manager) TLSConfig() *tls.Config {
	cfg := m.magic.TLSConfig()
	cfg.NextProtos = append([]string{"h2", "http/1.1"}, cfg.NextProtos...)
	return cfg
}

// ManageCertificates obtains certificates for the configured domains and
// keeps them renewed until the process exits.
func (m *Manager) ManageCertificates(ctx context.Context) error {
	m.logger.Info("obtaining certificates", zap.Strings("domains", m.config.Domains))

	if err := m.magic.ManageSync(ctx, m.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}

	m.logger.Info("certificates obtained")
	return nil
}
