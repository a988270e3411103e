package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStack(t *testing.T) {
	base := t.TempDir()
	fs, err := NewFSStore(base)
	require.NoError(t, err)

	path, err := fs.WriteStack("web", "services:\n  nginx:\n    image: nginx\n", "PORT=80\n")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "web", ComposeFileName), path)
	assert.True(t, fs.Exists("web"))

	env, err := os.ReadFile(filepath.Join(base, "web", ".env"))
	require.NoError(t, err)
	assert.Equal(t, "PORT=80\n", string(env))

	// redeploying without env content removes the stale file
	_, err = fs.WriteStack("web", "services:\n  nginx:\n    image: nginx\n", "")
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(base, "web", ".env"))
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, fs.Delete("web"))
	assert.False(t, fs.Exists("web"))
}

func TestStackDir_RejectsEscapes(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", "..", "../etc", "a/b", ".hidden", "with space"} {
		_, err := fs.StackDir(id)
		assert.Error(t, err, id)
	}
	_, err = fs.StackDir("my-stack_1.0")
	assert.NoError(t, err)
}
