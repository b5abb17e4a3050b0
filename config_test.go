package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPos(t *testing.T) {
	text := "ab\ncd\nefg"
	assert.Equal(t, FilePos{line: 1, pos: 1}, findPos(bufio.NewReader(strings.NewReader(text)), 1))
	assert.Equal(t, FilePos{line: 2, pos: 1}, findPos(bufio.NewReader(strings.NewReader(text)), 4))
	assert.Equal(t, FilePos{line: 3, pos: 2}, findPos(bufio.NewReader(strings.NewReader(text)), 8))
}

func TestDecodeConfigSyntaxError(t *testing.T) {
	var cfg Config
	err := decodeConfig(strings.NewReader("{\n  \"listen\": \":9000\",\n  \"database\" \"x\"\n}"), &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Line: 3")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, loadConfig(filepath.Join(t.TempDir(), "missing.json"), &cfg))

	assert.Equal(t, ":8081", cfg.Listen)
	assert.Equal(t, "https://api.iconfinder.com/v4/icons/search", cfg.Iconfinder.BaseUrl)
	assert.Equal(t, 10*time.Second, cfg.CatalogTimeout())
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL())
	assert.Equal(t, 25, cfg.Search.PageSize)
	assert.Equal(t, 10, cfg.Favorites.Limit)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Zero(t, cfg.Debounce())
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `{
  "listen": ":9000",
  "iconfinder": {"token": "from-file", "timeout": 3},
  "search": {"pageSize": 30, "debounce": 250},
  "debug": {"prettyJson": true}
}`)
	t.Setenv("FINDICON_ICONFINDER_TOKEN", "from-env")

	var cfg Config
	require.NoError(t, loadConfig(path, &cfg))
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "from-env", cfg.Iconfinder.Token)
	assert.Equal(t, 3*time.Second, cfg.CatalogTimeout())
	assert.Equal(t, 30, cfg.Search.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Debounce())
	assert.True(t, cfg.Debug.PrettyJson)
	assert.Equal(t, 10, cfg.Favorites.Limit, "defaults fill what the file leaves out")
}

func TestConfigPath(t *testing.T) {
	t.Setenv("FINDICON_CONFIG", "")
	assert.Equal(t, defaultConfigFile, configPath())
	t.Setenv("FINDICON_CONFIG", "/etc/findicon.json")
	assert.Equal(t, "/etc/findicon.json", configPath())
}
