package app

import (
	"go/parser"
	"go/token"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The agent ships as its own binary and shares only pkg/ with the controller.
func TestAgentImportsNoControllerPackages(t *testing.T) {
	fset := token.NewFileSet()
	checked := 0

	err := filepath.WalkDir("..", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".go") {
			return nil
		}
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}
		checked++
		for _, spec := range file.Imports {
			importPath, err := strconv.Unquote(spec.Path.Value)
			require.NoError(t, err)
			assert.False(t, strings.HasPrefix(importPath, "dockfleet/agent-svc"),
				"%s imports %s", path, importPath)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, checked, 10)
}
