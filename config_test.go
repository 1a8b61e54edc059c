package keymesh

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/keymesh/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultChannelCapacity, cfg.channelCapacity())
	assert.Equal(t, 10*time.Second, cfg.queryTimeout())
	assert.False(t, cfg.Link.Enabled)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "valid",
			cfg:  Config{Name: "ok", ChannelCapacity: 32},
		},
		{
			name:    "negative channel capacity",
			cfg:     Config{ChannelCapacity: -1},
			wantErr: errors.ErrInvalidConfig,
		},
		{
			name:    "negative query timeout",
			cfg:     Config{QueryTimeout: Duration(-time.Second)},
			wantErr: errors.ErrInvalidConfig,
		},
		{
			name:    "link enabled without URL",
			cfg:     Config{Link: LinkConfig{Enabled: true}},
			wantErr: errors.ErrMissingConfig,
		},
		{
			name: "link enabled with URL",
			cfg:  Config{Link: LinkConfig{Enabled: true, URL: "nats://localhost:4222"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keymesh.json")
	data := `{
		"name": "edge-node",
		"channel_capacity": 64,
		"query_timeout": "3s",
		"link": {
			"enabled": true,
			"url": "nats://localhost:4222",
			"namespace": "plant1",
			"allow_keys": ["sensors/**"],
			"connect_timeout": "2s"
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "edge-node", cfg.Name)
	assert.Equal(t, 64, cfg.ChannelCapacity)
	assert.Equal(t, 3*time.Second, cfg.queryTimeout())
	assert.True(t, cfg.Link.Enabled)
	assert.Equal(t, "plant1", cfg.Link.Namespace)
	assert.Equal(t, []string{"sensors/**"}, cfg.Link.AllowKeys)
	assert.Equal(t, 2*time.Second, cfg.Link.connectTimeout())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestDurationJSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"150ms"`)))
	assert.Equal(t, Duration(150*time.Millisecond), d)

	require.NoError(t, d.UnmarshalJSON([]byte(`1000000000`)))
	assert.Equal(t, Duration(time.Second), d)

	require.Error(t, d.UnmarshalJSON([]byte(`"forever"`)))
	require.Error(t, d.UnmarshalJSON([]byte(`true`)))

	out, err := Duration(2 * time.Second).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}
