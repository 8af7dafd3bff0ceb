package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_PriorityOrder(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("OPTIMIZER_API_KEY=from-dotenv\nSTORE_PATH=/data/dotenv.db\n"), 0o600))
	cfgFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("optimizer:\n  api_key: from-config\nstore_path: /data/config.db\nredis_addr: cfg:6379\n"), 0o600))

	t.Setenv("OPTIMIZER_API_KEY", "from-env")
	chain := NewChain(Env{}, &DotenvFile{Path: envFile}, &ConfigFile{Path: cfgFile}, Static{"REDIS_ADDR": "localhost:6379", "JWT_SECRET": "dev"})

	l, err := chain.Resolve("OPTIMIZER_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, Found("env", "from-env"), l)

	l, err = chain.Resolve("STORE_PATH")
	require.NoError(t, err)
	assert.Equal(t, "/data/dotenv.db", l.Value)
	assert.Equal(t, "dotenv:"+envFile, l.Source)

	l, err = chain.Resolve("REDIS_ADDR")
	require.NoError(t, err)
	assert.Equal(t, "cfg:6379", l.Value)

	v, err := chain.Require("JWT_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "dev", v)

	t.Setenv("OPTIMIZER_API_KEY", "")
	l, err = chain.Resolve("OPTIMIZER_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", l.Value, "empty values do not count as found")
}

func TestChain_Missing(t *testing.T) {
	absent := filepath.Join(t.TempDir(), "absent.env")
	chain := NewChain(Env{}, &DotenvFile{Path: absent}, Static{})
	_, err := chain.Require("DME_NOT_SET_ANYWHERE")
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"env", "dotenv:" + absent, "static"}, missing.Tried)
	assert.Equal(t, "fallback", chain.Get("DME_NOT_SET_ANYWHERE", "fallback"))
}

func TestChain_ProviderErrorStops(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("optimizer: [unclosed"), 0o600))
	chain := NewChain(&ConfigFile{Path: bad}, Static{"X": "y"})
	_, err := chain.Resolve("X")
	assert.Error(t, err)
}
