package buildinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_Defaults(t *testing.T) {
	info := Get("penf-linker")

	assert.Equal(t, "penf-linker", info.ServiceName)
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "unknown", info.BuildTime)
	assert.Equal(t, runtime.Version(), info.GoVersion)
}

func TestString(t *testing.T) {
	assert.Equal(t, "dev (unknown, unknown)", String())

	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "v0.3.0"
	Commit = "4f1c2d9"
	BuildTime = "2026-10-01T09:00:00Z"
	assert.Equal(t, "v0.3.0 (4f1c2d9, 2026-10-01T09:00:00Z)", String())
}
