// Package harness drives one benchmark invocation through its download,
// compute and upload stages and reports what each stage cost.
package harness

// Metric keys present in every measurement.
const (
	MetricDownloadTime = "download_time"
	MetricDownloadSize = "download_size"
	MetricUploadTime   = "upload_time"
	MetricUploadSize   = "upload_size"
	MetricComputeTime  = "compute_time"
)

// BaseMetrics lists the keys NewMeasurement seeds with zero.
var BaseMetrics = []string{
	MetricDownloadTime,
	MetricDownloadSize,
	MetricUploadTime,
	MetricUploadSize,
	MetricComputeTime,
}

// Measurement maps a metric name to its value. Times are microseconds,
// sizes are bytes.
type Measurement map[string]float64

// NewMeasurement returns a measurement holding every base metric at zero.
func NewMeasurement() Measurement {
	m := make(Measurement, len(BaseMetrics)+2)
	for _, k := range BaseMetrics {
		m[k] = 0
	}

	return m
}

// AddSubStage records s under its own name and folds it into the
// top-level metric of its phase.
func (m Measurement) AddSubStage(s SubStage) {
	us := Micros(s.Elapsed)
	m[s.Name] += us

	switch s.Phase {
	case PhaseDownload:
		m[MetricDownloadTime] += us
	case PhaseCompute:
		m[MetricComputeTime] += us
	}
}

// Envelope is the value returned by a successful invocation.
type Envelope struct {
	Result      any         `json:"result"`
	Measurement Measurement `json:"measurement"`
}

// ObjectResult is the result record of benchmarks that upload an output.
type ObjectResult struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}
