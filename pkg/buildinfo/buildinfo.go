// Package buildinfo reports the version the binary was built from.
package buildinfo

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
)

// Stamped by the release build, for example:
//
//	go build -ldflags "-X github.com/otherjamesbrown/penf-linker/pkg/buildinfo.Version=v0.3.0"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is served on /version and printed by `penf-linker version`.
type Info struct {
	ServiceName string `json:"service_name"`
	Version     string `json:"version"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	GoVersion   string `json:"go_version"`
}

func Get(serviceName string) Info {
	return Info{serviceName, Version, Commit, BuildTime, runtime.Version()}
}

// String formats the stamped values as "v0.3.0 (4f1c2d9, 2026-10-01T09:00:00Z)".
func String() string {
	return fmt.Sprintf("%s (%s, %s)", Version, Commit, BuildTime)
}

func Handler(serviceName string) gin.HandlerFunc {
	info := Get(serviceName)
	return func(c *gin.Context) { c.JSON(http.StatusOK, info) }
}
