package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-io/corral/shared/config"
)

func TestParseScalarFields(t *testing.T) {
	doc := `
name: web
image: ubuntu:20.04
cpu_limit: 2
memory_limit: 512
privileged: true
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "web", cfg.Name)
	assert.Equal(t, "ubuntu:20.04", cfg.Image)
	assert.Equal(t, 2, cfg.CPULimit)
	assert.Equal(t, 512, cfg.MemoryLimitMB)
	assert.True(t, cfg.Privileged)
}

func TestParseEnvironmentBlock(t *testing.T) {
	doc := `
name: web
environment:
  FOO: bar
  BAZ: qux
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"FOO": "bar", "BAZ": "qux"}, cfg.Environment)
}

func TestParseMountsBlock(t *testing.T) {
	doc := `
name: web
mounts:
  /data:/data
  /logs:/var/log
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"/data:/data", "/logs:/var/log"}, cfg.Mounts)
}

func TestParseNestedMappingTopLevelKeyYieldsEmptyString(t *testing.T) {
	// spec.md §9 Open Questions: "network:" written with indented children
	// (rather than a scalar on the same line) resolves to "", preserved
	// deliberately rather than fixed.
	doc := `
name: web
network:
  mode: bridge
  alias: web1
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, cfg.Network)
}

func TestParseIgnoresBlankAndCommentLines(t *testing.T) {
	doc := `
# a comment
name: web

image: ubuntu:20.04
`
	cfg, err := config.Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, "web", cfg.Name)
	assert.Equal(t, "ubuntu:20.04", cfg.Image)
}
