package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Defectra build information.",
		},
		[]string{"version", "storage"},
	)
)

// InitBuildInfo registers build_info once and sets build_info{version,storage} to 1.
func InitBuildInfo(version, storage string) {
	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.WithLabelValues(version, storage).Set(1)
}
