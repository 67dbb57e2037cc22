package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load()
	require.NoError(t, err, "a missing config file must not be an error")

	assert.False(t, settings.Debug)
	assert.Equal(t, "emspush", settings.Main.Name)
	assert.Equal(t, "http://localhost:8000/api/v1", settings.Backend.BaseURL)
	assert.Equal(t, 10*time.Second, settings.Backend.Timeout)
	assert.Equal(t, "tcp://localhost:1883", settings.Provider.Broker)
	assert.Equal(t, "push/device", settings.Provider.TopicPrefix)
	assert.Equal(t, 30*time.Second, settings.Push.Dedup.Window)
	assert.Equal(t, time.Minute, settings.Push.Dedup.Bucket)
	assert.Equal(t, time.Second, settings.Push.GraceDelay)
	assert.Equal(t, 1000, settings.Push.MaxNotifications)
	assert.Equal(t, 20, settings.Push.PageSize)
	assert.Equal(t, "emspush.db", settings.Push.TokenStorePath)
	assert.Equal(t, "8080", settings.Webserver.Port)
}

func TestLoadSetsGlobalInstance(t *testing.T) {
	loaded, err := Load()
	require.NoError(t, err)

	assert.Same(t, loaded, Setting())
}

func TestValidateSettings(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		s := &Settings{}
		s.Push.Dedup.Window = 30 * time.Second
		s.Push.Dedup.Bucket = time.Minute
		s.Push.PageSize = 20
		s.Backend.Timeout = 10 * time.Second
		return s
	}

	require.NoError(t, validateSettings(valid()))

	broken := valid()
	broken.Push.Dedup.Window = 0
	assert.Error(t, validateSettings(broken))

	broken = valid()
	broken.Push.Dedup.Bucket = -time.Second
	assert.Error(t, validateSettings(broken))

	broken = valid()
	broken.Push.PageSize = 0
	assert.Error(t, validateSettings(broken))

	broken = valid()
	broken.Backend.Timeout = 0
	assert.Error(t, validateSettings(broken))
}
