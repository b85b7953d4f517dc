// Package ffprobe extracts technical metadata from video files by shelling
// out to ffprobe (§4.3).
package ffprobe

import (
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	vberrors "github.com/five82/vbcompress/internal/errors"
	"github.com/five82/vbcompress/internal/job"
)

// MaxPlausibleFrameRate is the threshold above which a reported frame rate
// is treated as a timebase artifact and suppressed (§4.3).
const MaxPlausibleFrameRate = 240

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType      string `json:"codec_type"`
	CodecName      string `json:"codec_name"`
	Width          int64  `json:"width"`
	Height         int64  `json:"height"`
	AvgFrameRate   string `json:"avg_frame_rate"`
	RFrameRate     string `json:"r_frame_rate"`
	ColorPrimaries string `json:"color_primaries"`
}

// runner allows tests to substitute the ffprobe invocation.
var runner = runFFprobe

func runFFprobe(path string) ([]byte, error) {
	cmd := exec.Command("ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	return cmd.Output()
}

// Probe extracts width, height, frame rate, codec, duration, and color-space
// tag from the video stream of path.
func Probe(path string) (*job.Metadata, error) {
	raw, err := runner(path)
	if err != nil {
		return nil, vberrors.WrapExecError("ffprobe", err, "")
	}

	var out ffprobeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, vberrors.NewJSONParseError("failed to parse ffprobe output for "+path, err)
	}

	var video *ffprobeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			video = &out.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, vberrors.NewNoStreamsFoundError(path)
	}

	meta := &job.Metadata{
		Width:      int(video.Width),
		Height:     int(video.Height),
		Codec:      strings.ToLower(video.CodecName),
		ColorSpace: video.ColorPrimaries,
	}

	if out.Format.Duration != "" {
		if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
			meta.Duration = d
		}
	}

	rate := parseFrameRate(video.AvgFrameRate)
	if rate == 0 {
		rate = parseFrameRate(video.RFrameRate)
	}
	if rate > 0 && rate <= MaxPlausibleFrameRate {
		meta.FrameRate = int(rate + 0.5)
	}

	return meta, nil
}

// parseFrameRate parses an ffprobe rational frame-rate string ("30000/1001"
// or "25/1") into a float64. Returns 0 if unparseable.
func parseFrameRate(s string) float64 {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0
	}
	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}
	return num / den
}
