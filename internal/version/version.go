// Package version хранит сведения о сборке order-service.
//
// Значения подставляются через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/orderflow/internal/version.version=v1.2.0 \
//	  -X github.com/vladislavdragonenkov/orderflow/internal/version.commit=$(git rev-parse --short HEAD)"
//
// Если commit не задан, берётся vcs.revision из debug.BuildInfo.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает текущую сборку.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
}

var (
	buildOnce sync.Once
	build     Build
)

// Current возвращает сведения о сборке; вычисляются один раз.
func Current() Build {
	buildOnce.Do(func() {
		build = resolve(version, commit, date, debug.ReadBuildInfo)
	})
	return build
}

func resolve(v, c, d string, readInfo func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: v, Commit: c, Date: d, GoVersion: "unknown"}

	info, ok := readInfo()
	if !ok || info == nil {
		return b
	}
	b.GoVersion = info.GoVersion

	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			if b.Commit == "unknown" && setting.Value != "" {
				b.Commit = shortRevision(setting.Value)
			}
		case "vcs.time":
			if b.Date == "unknown" && setting.Value != "" {
				b.Date = setting.Value
			}
		}
	}
	return b
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// LogFields — поля сборки для стартового лога.
func (b Build) LogFields() log.Fields {
	return log.Fields{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
		"go_version": b.GoVersion,
	}
}

func (b Build) String() string {
	return fmt.Sprintf("orderflow %s (commit %s, built %s, %s)", b.Version, b.Commit, b.Date, b.GoVersion)
}
