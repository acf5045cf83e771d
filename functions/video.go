package functions

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samuelchassot/serverless-benchmarks/harness"
)

// VideoBenchmark is the name of the video processing benchmark.
const VideoBenchmark = "video-processing"

const (
	gifFilter       = "fps=10,scale=320:-1:flags=lanczos,split[s0][s1];[s0]palettegen[p];[s1][p]paletteuse"
	watermarkFilter = "overlay=main_w/2-overlay_w/2:main_h/2-overlay_h/2"
)

// Video runs ffmpeg over a downloaded clip.
type Video struct {
	FFmpeg    string
	Watermark string // PNG overlaid by the watermark operation
	Runner    harness.ToolRunner
}

// videoOp builds the ffmpeg arguments for one operation. It returns the
// arguments and the output file they write.
type videoOp struct {
	name  string
	video *Video
	args  func(input, scratch string, duration float64) ([]string, string, error)
}

func (o *videoOp) Name() string { return o.name }

func (o *videoOp) CheckEvent(ev *harness.Event) error {
	_, err := clipDuration(ev)
	return err
}

func (o *videoOp) Run(ctx context.Context, in *harness.Input) (*harness.Output, error) {
	duration, err := clipDuration(in.Event)
	if err != nil {
		return nil, err
	}

	args, output, err := o.args(in.Path, in.ScratchDir, duration)
	if err != nil {
		return nil, err
	}

	if _, err := o.video.Runner.Run(ctx, o.video.FFmpeg, append([]string{"-y"}, args...)...); err != nil {
		return nil, fmt.Errorf("ffmpeg %s: %w", o.name, err)
	}

	return &harness.Output{Path: output}, nil
}

// clipDuration returns object.duration in seconds.
func clipDuration(ev *harness.Event) (float64, error) {
	d, err := ev.Float("object.duration")
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: duration %v is negative", harness.ErrMalformedEvent, d)
	}

	return d, nil
}

func processedName(scratch, input, ext string) string {
	base := filepath.Base(input)
	if ext != "" {
		base = strings.TrimSuffix(base, filepath.Ext(base)) + ext
	}

	return filepath.Join(scratch, "processed-"+base)
}

// Operations returns the video operations in registration order.
func (v *Video) Operations() []harness.Operation {
	return []harness.Operation{
		&videoOp{name: "extract-gif", video: v, args: v.gifArgs},
		&videoOp{name: "watermark", video: v, args: v.watermarkArgs},
		&videoOp{name: "transcode", video: v, args: v.transcodeArgs},
	}
}

func (v *Video) gifArgs(input, scratch string, duration float64) ([]string, string, error) {
	output := filepath.Join(scratch, "processed-"+filepath.Base(input)+".gif")

	return []string{
		"-i", input,
		"-t", strconv.FormatFloat(duration, 'f', -1, 64),
		"-vf", gifFilter,
		"-loop", "0",
		output,
	}, output, nil
}

func (v *Video) watermarkArgs(input, scratch string, duration float64) ([]string, string, error) {
	if v.Watermark == "" {
		return nil, "", errors.New("watermark image not configured")
	}

	output := processedName(scratch, input, "")

	return []string{
		"-i", input,
		"-i", v.Watermark,
		"-t", strconv.FormatFloat(duration, 'f', -1, 64),
		"-filter_complex", watermarkFilter,
		output,
	}, output, nil
}

func (v *Video) transcodeArgs(input, scratch string, duration float64) ([]string, string, error) {
	output := processedName(scratch, input, ".mp3")

	return []string{
		"-i", input,
		"-t", strconv.FormatFloat(duration, 'f', -1, 64),
		"-vn",
		"-codec:a", "libmp3lame",
		"-q:a", "2",
		output,
	}, output, nil
}

// Benchmark describes the video benchmark for the harness.
func (v *Video) Benchmark() (harness.Benchmark, error) {
	reg, err := harness.NewRegistry(v.Operations()...)
	if err != nil {
		return harness.Benchmark{}, fmt.Errorf("%s: %w", VideoBenchmark, err)
	}

	return harness.Benchmark{
		Name:       VideoBenchmark,
		Input:      harness.InputObject,
		Upload:     true,
		Operations: reg,
	}, nil
}
