package identity

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "identity.json")
	m := NewManager(path)

	missing, err := m.Load()
	require.NoError(t, err)
	assert.Nil(t, missing)

	created, err := m.LoadOrCreate("")
	require.NoError(t, err)
	assert.Len(t, created.AgentID, 36)

	// a stored id wins over a configured one
	again, err := NewManager(path).LoadOrCreate("configured")
	require.NoError(t, err)
	assert.Equal(t, created.AgentID, again.AgentID)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLoadOrCreate_UsesConfiguredID(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "identity.json"))

	ident, err := m.LoadOrCreate("edge-01")
	require.NoError(t, err)
	assert.Equal(t, "edge-01", ident.AgentID)
}

func TestUpdateToken(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "identity.json"))
	assert.Error(t, m.UpdateToken("tok"), "no identity yet")

	_, err := m.LoadOrCreate("a1")
	require.NoError(t, err)
	require.NoError(t, m.UpdateToken("tok"))

	ident, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, &Identity{AgentID: "a1", Token: "tok"}, ident)
}

func TestLoad_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, err := NewManager(path).Load()
	assert.Error(t, err)
}

func TestCollect(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "proc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "os-release"),
		[]byte("NAME=\"Debian\"\nPRETTY_NAME=\"Debian GNU/Linux 12 (bookworm)\"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "proc", "meminfo"),
		[]byte("MemTotal:       16384000 kB\nMemFree:         1024 kB\n"), 0644))

	c := NewCollector(func() (string, error) { return "10.0.0.5", nil })
	c.etcRoot = filepath.Join(root, "etc")
	c.procRoot = filepath.Join(root, "proc")

	meta := c.Collect()
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, meta.Platform())
	assert.Equal(t, "10.0.0.5", meta.IPAddress)
	assert.Positive(t, meta.CPUCores)

	m := meta.Map()
	assert.Equal(t, "10.0.0.5", m["ipAddress"])
	if runtime.GOOS == "linux" {
		assert.Equal(t, "Debian GNU/Linux 12 (bookworm)", meta.OSVersion)
		assert.Equal(t, 16000, meta.MemoryMB)
		assert.Equal(t, 16000, m["memoryMb"])
	}
}
