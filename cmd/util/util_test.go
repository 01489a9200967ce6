package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "", WrapString("   "))
	long := strings.Repeat("x", Wrap+10)
	assert.Equal(t, long, WrapString(long))
}

func TestLoadConfigFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	path := filepath.Join(t.TempDir(), "kstorage.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{
	// comments and trailing commas are allowed
	"endpoint": "127.0.0.1:9000",
	"reclaim-mode": "sync",
	"memory-limit": 1024,
}`), 0o600))

	require.NoError(t, LoadConfigFile(path))
	assert.Equal(t, "127.0.0.1:9000", viper.GetString("endpoint"))
	assert.Equal(t, "sync", viper.GetString("reclaim-mode"))
	assert.EqualValues(t, 1024, viper.GetInt64("memory-limit"))

	// explicitly set values win over the file
	viper.Set("endpoint", ":1")
	assert.Equal(t, ":1", viper.GetString("endpoint"))
}

func TestLoadConfigFileErrors(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	assert.Error(t, LoadConfigFile(filepath.Join(t.TempDir(), "missing.jsonc")))

	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(`{"endpoint": `), 0o600))
	assert.Error(t, LoadConfigFile(path))
}

func TestEnvironment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("KSTORAGE_LOG_LEVEL", "debug")
	InitConfig()
	assert.Equal(t, "debug", viper.GetString("log-level"))
}

func TestFactories(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, name := range []string{"json", "gob", "binary"} {
		viper.Set("serializer", name)
		s, err := GetSerializer()
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}
	viper.Set("serializer", "xml")
	_, err := GetSerializer()
	assert.Error(t, err)

	for _, name := range []string{"http", "tcp", "unix"} {
		viper.Set("transport", name)
		_, err := GetClientTransport()
		require.NoError(t, err, name)
		_, err = GetServerTransport()
		require.NoError(t, err, name)
	}
	viper.Set("transport", "udp")
	_, err = GetClientTransport()
	assert.Error(t, err)
	_, err = GetServerTransport()
	assert.Error(t, err)
}

func TestGetClientConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("transport-endpoints", "a:1,b:2")
	viper.Set("transport-retries", 5)
	viper.Set("shard", 3)

	config := GetClientConfig()
	assert.Equal(t, []string{"a:1", "b:2"}, config.Transport.Endpoints)
	assert.Equal(t, 5, config.Transport.RetryCount)
	assert.EqualValues(t, 3, GetShardID())
}
