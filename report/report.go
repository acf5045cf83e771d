// Package report formats invocation records into comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/samuelchassot/serverless-benchmarks/harness"
	"github.com/samuelchassot/serverless-benchmarks/store"
)

// Row aggregates the records of one benchmark operation. Timings and
// sizes are means over successful invocations.
type Row struct {
	Benchmark    string  `json:"benchmark"`
	Operation    string  `json:"operation"`
	Invocations  int     `json:"invocations"`
	Failures     int     `json:"failures"`
	DownloadUs   float64 `json:"download_time"`
	ComputeUs    float64 `json:"compute_time"`
	UploadUs     float64 `json:"upload_time"`
	DownloadSize float64 `json:"download_size"`
	UploadSize   float64 `json:"upload_size"`
}

// Summarize groups records by benchmark and operation, sorted by both.
func Summarize(records []store.Record) []Row {
	index := make(map[[2]string]*Row)
	var order [][2]string

	for _, r := range records {
		k := [2]string{r.Benchmark, r.Operation}

		row, ok := index[k]
		if !ok {
			row = &Row{Benchmark: r.Benchmark, Operation: r.Operation}
			index[k] = row
			order = append(order, k)
		}

		row.Invocations++

		if r.Failed() {
			row.Failures++
			continue
		}

		row.DownloadUs += r.Measurement[harness.MetricDownloadTime]
		row.ComputeUs += r.Measurement[harness.MetricComputeTime]
		row.UploadUs += r.Measurement[harness.MetricUploadTime]
		row.DownloadSize += r.Measurement[harness.MetricDownloadSize]
		row.UploadSize += r.Measurement[harness.MetricUploadSize]
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i][0] != order[j][0] {
			return order[i][0] < order[j][0]
		}
		return order[i][1] < order[j][1]
	})

	rows := make([]Row, 0, len(order))

	for _, k := range order {
		row := index[k]

		if ok := float64(row.Invocations - row.Failures); ok > 0 {
			row.DownloadUs /= ok
			row.ComputeUs /= ok
			row.UploadUs /= ok
			row.DownloadSize /= ok
			row.UploadSize /= ok
		}

		rows = append(rows, *row)
	}

	return rows
}

// Generate writes a markdown comparison table for the given records.
func Generate(w io.Writer, records []store.Record) error {
	if len(records) == 0 {
		return fmt.Errorf("no records to report")
	}

	rows := Summarize(records)
	fastest := findFastest(rows)

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	failures := 0
	for _, r := range rows {
		failures += r.Failures
	}

	if failures == 0 {
		fmt.Fprintf(w, "Invocations: %d, **all succeeded**\n", len(records))
	} else {
		fmt.Fprintf(w, "Invocations: %d, **%d FAILED**\n", len(records), failures)

		for _, r := range records {
			if r.Failed() {
				fmt.Fprintf(w, "  - %s/%s (%s): %s\n", r.Benchmark, r.Operation, r.Stage, firstLine(r.Error))
			}
		}
	}

	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Benchmark | Operation | Runs | Failed | Download "+
		"| Compute | Upload | Input | Output | Relative |")
	fmt.Fprintln(w, "|-----------|-----------|------|--------|----------"+
		"|---------|--------|-------|--------|----------|")

	for _, r := range rows {
		relative := "-"
		if fastest > 0 && r.ComputeUs > 0 {
			relative = fmt.Sprintf("%.2fx", r.ComputeUs/fastest)
		}

		fmt.Fprintf(w, "| %s | %s | %d | %d | %s | %s | %s | %s | %s | %s |\n",
			r.Benchmark,
			r.Operation,
			r.Invocations,
			r.Failures,
			formatMicros(r.DownloadUs),
			formatMicros(r.ComputeUs),
			formatMicros(r.UploadUs),
			formatBytes(uint64(r.DownloadSize)),
			formatBytes(uint64(r.UploadSize)),
			relative,
		)
	}

	return nil
}

// GenerateJSON writes the aggregated rows as JSON to w.
func GenerateJSON(w io.Writer, records []store.Record) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(Summarize(records))
}

func findFastest(rows []Row) float64 {
	fastest := math.Inf(1)
	for _, r := range rows {
		if r.ComputeUs > 0 && r.ComputeUs < fastest {
			fastest = r.ComputeUs
		}
	}

	if math.IsInf(fastest, 1) {
		return 0
	}

	return fastest
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func formatMicros(us float64) string {
	switch {
	case us < 1000:
		return fmt.Sprintf("%.0fµs", us)
	case us < 1e6:
		return fmt.Sprintf("%.2fms", us/1e3)
	default:
		return fmt.Sprintf("%.2fs", us/1e6)
	}
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
