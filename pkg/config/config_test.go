package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/postpilot/pkg/transport"
)

func TestDefaults(t *testing.T) {
	s := Defaults()
	require.Equal(t, "http://localhost:8000", s.Backend.URL)
	require.Equal(t, 2*time.Minute, s.Backend.Timeout)
	require.Equal(t, transport.DefaultIdentity, s.Chat.Identity)
	require.False(t, s.Chat.Reconnect.Enabled)
	require.Equal(t, 30*time.Second, s.Status.CacheTTL)
	require.True(t, s.Status.GatePublish)
	require.False(t, s.Events.Redis.Enabled)
	require.NoError(t, s.Validate())
}

func TestLoadFromFileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent_id: from-file
backend:
  url: http://file:9000
  timeout: 30s
chat:
  reconnect:
    enabled: true
    max_retries: 3
`), 0o600))

	t.Setenv(EnvPrefix+"_CONFIG", path)
	t.Setenv(EnvPrefix+"_BACKEND_URL", "http://env:9001")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--agent-id", "from-flag"}))

	l := NewLoader().WithEnvFiles()
	require.NoError(t, l.BindFlags(fs))
	s, err := l.Load()
	require.NoError(t, err)

	require.Equal(t, "from-flag", s.AgentID)
	require.Equal(t, "http://env:9001", s.Backend.URL)
	require.Equal(t, 30*time.Second, s.Backend.Timeout)
	require.True(t, s.Chat.Reconnect.Enabled)
	require.Equal(t, uint64(3), s.Chat.Reconnect.MaxRetries)
	require.Equal(t, 500*time.Millisecond, s.Chat.Reconnect.InitialInterval)
	require.IsType(t, &transport.BackoffPolicy{}, s.Chat.ReconnectPolicy())
}

func TestDotenvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("POSTPILOT_AGENT_ID=from-dotenv\n"), 0o600))
	cfgFile := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("{}\n"), 0o600))
	t.Setenv(EnvPrefix+"_CONFIG", cfgFile)
	t.Setenv(EnvPrefix+"_AGENT_ID", "")
	require.NoError(t, os.Unsetenv(EnvPrefix+"_AGENT_ID"))

	s, err := NewLoader().WithEnvFiles(envFile).Load()
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", s.AgentID)
}

func TestExplicitMissingConfigFails(t *testing.T) {
	t.Setenv(EnvPrefix+"_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := NewLoader().WithEnvFiles().Load()
	require.Error(t, err)
}

func TestUnsetFlagsDoNotOverride(t *testing.T) {
	l := NewLoader().WithEnvFiles()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, l.BindFlags(fs))
	require.Equal(t, "http://localhost:8000", l.Viper().GetString("backend.url"))
}

func TestStatusGateCanBeDisabled(t *testing.T) {
	l := NewLoader().WithEnvFiles()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, l.BindFlags(fs))
	require.True(t, l.Viper().GetBool("status.gate_publish"))

	l = NewLoader().WithEnvFiles()
	fs = pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--status-gate=false"}))
	require.NoError(t, l.BindFlags(fs))
	require.False(t, l.Viper().GetBool("status.gate_publish"))
}

func TestValidate(t *testing.T) {
	s := Defaults()
	s.AgentID = " "
	require.Error(t, s.Validate())

	s = Defaults()
	s.Events.Redis.Enabled = true
	s.Events.Redis.Addr = ""
	require.Error(t, s.Validate())
}

func TestNeverReconnectByDefault(t *testing.T) {
	require.Equal(t, transport.NeverReconnect{}, Defaults().Chat.ReconnectPolicy())
}

func TestYAML(t *testing.T) {
	b, err := Defaults().YAML()
	require.NoError(t, err)
	require.Contains(t, string(b), "agent_id: default-agent")
	require.Contains(t, string(b), "url: http://localhost:8000")
}
