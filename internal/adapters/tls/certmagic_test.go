package tls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewManagerDisabled(t *testing.T) {
	m, err := NewManager(Config{}, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Enabled: true,
		Domains: []string{"tiles.example.com"},
		Email:   "ops@example.com",
		DNS:     DNSConfig{SubscriptionID: "sub", ResourceGroupName: "rg"},
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "disabled ignores fields", mutate: func(c *Config) { *c = Config{} }},
		{name: "no domains", mutate: func(c *Config) { c.Domains = nil }, wantErr: true},
		{name: "no email", mutate: func(c *Config) { c.Email = "" }, wantErr: true},
		{name: "no dns zone", mutate: func(c *Config) { c.DNS.ResourceGroupName = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewManagerBuildsTLSConfig(t *testing.T) {
	m, err := NewManager(Config{
		Enabled:  true,
		Domains:  []string{"tiles.example.com"},
		Email:    "ops@example.com",
		CacheDir: t.TempDir(),
		Staging:  true,
		DNS:      DNSConfig{SubscriptionID: "sub", ResourceGroupName: "rg"},
	}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, m)

	cfg := m.TLSConfig()
	require.NotNil(t, cfg)
	assert.Contains(t, cfg.NextProtos, "h2")
	assert.NotNil(t, cfg.GetCertificate)
}
