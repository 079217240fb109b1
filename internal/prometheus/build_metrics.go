package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "phase_duration_seconds",
		Namespace: Namespace,
		Help:      "Duration of a build phase.",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 180, 300, 450, 600, 900, 1200, 1800, 2700, 3600},
	}, []string{"phase"})
)

var (
	Builds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name:      "builds_total",
		Namespace: Namespace,
		Help:      "Total number of image builds by result.",
	}, []string{"result"})
)

var (
	InstalledPackages = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "installed_packages",
		Namespace: Namespace,
		Help:      "Number of packages installed into the image.",
	})

	MinimizedImageBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "minimized_image_bytes",
		Namespace: Namespace,
		Help:      "Size of the root filesystem shrunk to its minimum.",
	})

	OverlayBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name:      "delta_overlay_bytes",
		Namespace: Namespace,
		Help:      "Size of the uncompressed minimal delta overlay.",
	})
)

// ObservePhase starts timing phase. Call the returned func when it ends.
func ObservePhase(phase string) ObserveFunc {
	pt := prometheus.NewTimer(PhaseDuration.WithLabelValues(phase))
	return pt.ObserveDuration
}

func FinishBuild(err error) {
	if err != nil {
		Builds.WithLabelValues("failure").Inc()
		return
	}
	Builds.WithLabelValues("success").Inc()
}
