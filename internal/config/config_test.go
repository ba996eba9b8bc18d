package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/arzzra/callcontrol/internal/config"
	"github.com/arzzra/callcontrol/pkg/sipengine"
)

const sample = `
sip:
  listen_port: 5070
  transport: tcp
  expires: 30m
  dtmf_mode: rfc4733
account:
  user: alice
  password: secret
  domain: example.test
media:
  rtp_port: 40000
  codecs: [8]
  video: sendrecv
log:
  level: debug
  format: json
metrics:
  enabled: true
  listen: 127.0.0.1:9100
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "softphone.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	if diff := cmp.Diff(config.DefaultConfig(), *cfg); diff != "" {
		t.Errorf("значения по умолчанию отличаются (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	want := config.DefaultConfig()
	want.SIP.ListenPort = 5070
	want.SIP.Transport = "tcp"
	want.SIP.Expires = 30 * time.Minute
	want.SIP.DTMFMode = "rfc4733"
	want.Account = config.AccountConfig{User: "alice", Password: "secret", Domain: "example.test"}
	want.Media = config.MediaConfig{RTPPort: 40000, Codecs: []uint8{8}, Video: "sendrecv"}
	want.Log.Level = "debug"
	want.Log.Format = "json"
	want.Metrics = config.MetricsConfig{Enabled: true, Listen: "127.0.0.1:9100"}
	if diff := cmp.Diff(want, *cfg); diff != "" {
		t.Errorf("конфигурация отличается (-want +got):\n%s", diff)
	}

	eng := cfg.Engine()
	assert.Equal(t, 5070, eng.LocalPort)
	assert.Equal(t, sipengine.DTMFRFC4733, eng.DTMFMode)
	assert.Equal(t, 40000, eng.MediaPort)
	assert.Equal(t, "alice", cfg.Credentials().User)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOFTPHONE_ACCOUNT_USER", "carol")
	t.Setenv("SOFTPHONE_SIP_LISTEN_PORT", "5099")

	cfg, err := config.Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Equal(t, "carol", cfg.Account.User)
	assert.Equal(t, 5099, cfg.SIP.ListenPort)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := config.DefaultConfig()
	base.Account.User = "alice"
	base.Account.Domain = "example.test"
	require.NoError(t, base.Validate())

	cases := map[string]func(*config.Config){
		"нет пользователя": func(c *config.Config) { c.Account.User = "" },
		"нет домена":       func(c *config.Config) { c.Account.Domain = "" },
		"транспорт":        func(c *config.Config) { c.SIP.Transport = "sctp" },
		"video":            func(c *config.Config) { c.Media.Video = "maybe" },
		"формат лога":      func(c *config.Config) { c.Log.Format = "xml" },
		"адрес метрик": func(c *config.Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = ""
		},
	}
	for name, mutate := range cases {
		cfg := base
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}

	p2p := base
	p2p.Account.Domain = ""
	p2p.Account.P2P = true
	assert.NoError(t, p2p.Validate(), "P2P не требует домена")
}

func TestDumpHidesPassword(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Account.User = "alice"
	cfg.Account.Password = "secret"

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "secret")
	assert.Equal(t, "secret", cfg.Account.Password, "исходная конфигурация не меняется")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	require.Contains(t, back, "sip")
	assert.Equal(t, "1h0m0s", back["sip"].(map[string]any)["expires"])
}
