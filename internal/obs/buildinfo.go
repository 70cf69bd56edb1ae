package obs

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// RegisterBuildInfo publishes a constant gauge with version labels so
// dashboards can correlate behavior changes with deploys.
func RegisterBuildInfo(version string) {
	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "service_build_info",
			Help: "Build metadata as constant labels.",
		},
		[]string{"version", "go_version"},
	)
	prometheus.MustRegister(buildInfo)
	buildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}
