package source

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cldmv/slothlet/internal/sanitize"
)

func writeFile(t *testing.T, fsys afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fsys, path, []byte(content), 0o644))
}

func TestAnalyzeFuncDefault(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/api/math/add.go", `package add

func Default(a, b int) int { return a + b }
`)
	d, err := Analyze(fsys, "math", "/api/math/add.go", sanitize.Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFunction, d.DefaultKind)
	assert.Equal(t, "add", d.SanitizedName)
	assert.Empty(t, d.DefaultFuncName)
	assert.Empty(t, d.NamedExports)
}

func TestAnalyzeFunctionNamePreference(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/api/volume/volume.go", `package volume

var Default = setVolume

func setVolume(level int) int { return level }
`)
	d, err := Analyze(fsys, "volume", "/api/volume/volume.go", sanitize.Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultFunction, d.DefaultKind)
	assert.Equal(t, "setVolume", d.DefaultFuncName)
}

func TestAnalyzeCallableWithProperties(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/api/multi/key.go", `package key

var DefaultProps = map[string]any{"up": nil}

func Default(level int) int { return level }
`)
	d, err := Analyze(fsys, "multi", "/api/multi/key.go", sanitize.Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultCallableWithProperties, d.DefaultKind)
	assert.True(t, d.HasDefaultProps)
}

func TestAnalyzeSelfReferential(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/api/thing/thing.go", `package thing

func Describe() string { return "thing" }

var Default = Describe
`)
	d, err := Analyze(fsys, "thing", "/api/thing/thing.go", sanitize.Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSelfReferential, d.DefaultKind)
	assert.Equal(t, "Describe", d.SelfReferentialTarget)
	require.Len(t, d.NamedExports, 1)
	assert.Equal(t, "Describe", d.NamedExports[0].Name)
}

func TestAnalyzeObjectDefault(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/api/config/config.go", `package config

var Default = struct{ Timeout int }{Timeout: 30}
`)
	d, err := Analyze(fsys, "config", "/api/config/config.go", sanitize.Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultObject, d.DefaultKind)
}

func TestAnalyzeNoDefault(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/api/utils/helpers.go", `package helpers

func Trim(s string) string { return s }
func Pad(s string) string { return s }
`)
	d, err := Analyze(fsys, "utils", "/api/utils/helpers.go", sanitize.Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultNone, d.DefaultKind)
	assert.Len(t, d.NamedExports, 2)
}

func TestAnalyzeMixedExportsFlag(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeFile(t, fsys, "/api/math/add.go", `package add

func Default(a, b int) int { return a + b }
func Multiply(a, b int) int { return a * b }
`)
	d, err := Analyze(fsys, "math", "/api/math/add.go", sanitize.Options{})
	require.NoError(t, err)
	assert.True(t, d.HasMixedExports)
}

func TestIgnoreFileAndIsModuleFile(t *testing.T) {
	assert.True(t, IgnoreFile(".hidden.go"))
	assert.True(t, IgnoreFile("_draft.go"))
	assert.True(t, IgnoreFile("__slothlet_manifest.go"))
	assert.False(t, IgnoreFile("add.go"))

	assert.True(t, IsModuleFile("add.go"))
	assert.False(t, IsModuleFile("add_test.go"))
	assert.False(t, IsModuleFile("readme.md"))
}
