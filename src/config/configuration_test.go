package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetenv(t *testing.T) {
	t.Setenv("SLURMBRIDGE_TEST_INT", "42")
	t.Setenv("SLURMBRIDGE_TEST_BOOL", "true")
	t.Setenv("SLURMBRIDGE_TEST_BAD", "nope")

	i, err := GetenvInt("SLURMBRIDGE_TEST_INT")
	require.NoError(t, err)
	assert.Equal(t, 42, *i)

	b, err := GetenvBool("SLURMBRIDGE_TEST_BOOL")
	require.NoError(t, err)
	assert.True(t, *b)

	d, err := GetenvSeconds("SLURMBRIDGE_TEST_INT")
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, *d)

	unset, err := GetenvInt("SLURMBRIDGE_TEST_UNSET")
	require.NoError(t, err)
	assert.Nil(t, unset)

	_, err = GetenvBool("SLURMBRIDGE_TEST_BAD")
	assert.Error(t, err)
}

func TestBuildLoggerConfig(t *testing.T) {
	t.Setenv("FILE_LOGGING_ENABLED", "true")
	t.Setenv("LOGS_DIRECTORY", "/var/log/slurmbridge")
	t.Setenv("LOGS_MAX_AGE", "3")

	conf, err := buildLoggerConfig(true)

	require.NoError(t, err)
	assert.True(t, conf.DebugModeEnabled)
	assert.True(t, conf.FileLoggingEnabled)
	assert.Equal(t, "/var/log/slurmbridge", conf.Directory)
	assert.Equal(t, "slurmbridge.log", conf.Filename)
	assert.Equal(t, 3, conf.MaxAge)
	assert.Equal(t, 10, conf.MaxSize)
}

func TestNewWebConfig(t *testing.T) {
	t.Parallel()

	cfg, err := NewWebConfig(":8080", "")
	require.NoError(t, err)
	assert.Nil(t, cfg.Token)

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("s3cret\n"), 0o600))

	cfg, err = NewWebConfig(":8080", tokenFile)
	require.NoError(t, err)
	assert.Equal(t, []byte("s3cret"), cfg.Token)

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = NewWebConfig(":8080", empty)
	assert.Error(t, err)
}
