package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	conf, err := Load("")
	require.Nil(t, err)

	assert.Equal(t, ":8080", conf.Server.Address)
	assert.Equal(t, 20*time.Second, conf.Server.ShutdownTimeout)
	assert.False(t, conf.Signaling.EnforceSameRoom)
	assert.Equal(t, 256, conf.Signaling.InboxSize)
	assert.Equal(t, int64(200*1024), conf.Signaling.MaxMessageSize)
	assert.Equal(t, 60*time.Second, conf.Session.IdleTimeout)
	assert.Equal(t, StubEngine, conf.Session.Engine)
	assert.False(t, conf.Protocol.RequireValidation)
	assert.Equal(t, []string{"*"}, conf.CORS.AllowOrigins)
	assert.Equal(t, "robot.commands", conf.Nats.Subject)
	assert.Empty(t, conf.Redis.Addr)
	assert.Equal(t, DefaultStunServers, conf.RTC.ICEServers)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("ROBOSIGNAL_SIGNALING_ENFORCE_SAME_ROOM", "true")
	t.Setenv("ROBOSIGNAL_SESSION_IDLE_TIMEOUT", "15s")
	t.Setenv("ROBOSIGNAL_SESSION_ENGINE", "pion")
	t.Setenv("ROBOSIGNAL_ROBOT_MODEL", "Go2-EDU")
	t.Setenv("ALLOW_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("PORT", "9000")

	conf, err := Load("")
	require.Nil(t, err)

	assert.True(t, conf.Signaling.EnforceSameRoom)
	assert.Equal(t, 15*time.Second, conf.Session.IdleTimeout)
	assert.Equal(t, PionEngine, conf.Session.Engine)
	assert.Equal(t, "Go2-EDU", conf.Robot.Model)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, conf.CORS.AllowOrigins)
	assert.Equal(t, ":9000", conf.Server.Address)
}

func TestLoadPrefixedAddressWinsOverPort(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ROBOSIGNAL_SERVER_ADDRESS", "127.0.0.1:7000")

	conf, err := Load("")
	require.Nil(t, err)
	assert.Equal(t, "127.0.0.1:7000", conf.Server.Address)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robosignal.yaml")
	content := []byte(`
server:
  address: ":7070"
session:
  idle_timeout: 30s
protocol:
  require_validation: true
robot:
  serial_number: "B42"
redis:
  addr: "localhost:6379"
`)
	require.Nil(t, os.WriteFile(path, content, 0o600))

	conf, err := Load(path)
	require.Nil(t, err)

	assert.Equal(t, ":7070", conf.Server.Address)
	assert.Equal(t, 30*time.Second, conf.Session.IdleTimeout)
	assert.True(t, conf.Protocol.RequireValidation)
	assert.Equal(t, "B42", conf.Robot.SerialNumber)
	assert.Equal(t, "localhost:6379", conf.Redis.Addr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NotNil(t, err)

	t.Setenv("ROBOSIGNAL_SESSION_ENGINE", "quantum")
	_, err = Load("")
	assert.NotNil(t, err)
}

func TestNewWebRTCConfig(t *testing.T) {
	conf, err := Load("")
	require.Nil(t, err)

	rtcConf, err := NewWebRTCConfig(conf)
	require.Nil(t, err)

	assert.Equal(t, webrtc.SDPSemanticsUnifiedPlan, rtcConf.Configuration.SDPSemantics)
	require.Len(t, rtcConf.Configuration.ICEServers, 1)
	assert.Equal(t, DefaultStunServers, rtcConf.Configuration.ICEServers[0].URLs)

	conf.RTC.ICEPortRangeStart = 60000
	conf.RTC.ICEPortRangeEnd = 50000
	_, err = NewWebRTCConfig(conf)
	assert.NotNil(t, err)
}
