// Package ffmpegcmd builds the ffmpeg argument lists for the hardware and
// software encode paths and the color-repair remux, and defines the
// diagnostic stderr substrings the supervisor matches to classify failures
// (§4.4).
package ffmpegcmd

import "fmt"

// Bitstream filters applied by the color-repair sub-pipeline, tried in
// order: HEVC sources first, falling back to H.264.
const (
	HEVCMetadataFilter = "hevc_metadata=color_primaries=1:color_trc=1:colorspace=1"
	H264MetadataFilter = "h264_metadata=color_primaries=1:color_trc=1:colorspace=1"
)

// Diagnostic substrings recognized in ffmpeg stderr.
const (
	HWCapSignature        = "Hardware is lacking required capabilities"
	ColorPrimariesWarning = "is not a valid value for color_primaries"
	ColorTransferWarning  = "is not a valid value for color_trc"
)

// EncodeSpec describes one encode invocation.
type EncodeSpec struct {
	SourcePath   string
	OutputPath   string
	CQ           int
	GPU          bool
	Rotation     int // one of {0, 90, 180, 270}
	CopyMetadata bool
}

// BuildEncodeCommand constructs the ffmpeg argument list for the hardware
// (av1_nvenc) or software (libsvtav1) encode path.
func BuildEncodeCommand(spec EncodeSpec) []string {
	args := []string{
		"-y",
		"-fflags", "+genpts",
		"-avoid_negative_ts", "make_zero",
		"-i", spec.SourcePath,
	}

	if spec.GPU {
		args = append(args,
			"-c:v", "av1_nvenc",
			"-cq", fmt.Sprintf("%d", spec.CQ),
			"-preset", "p7",
			"-tune", "hq",
		)
	} else {
		args = append(args,
			"-c:v", "libsvtav1",
			"-preset", "6",
			"-crf", fmt.Sprintf("%d", spec.CQ),
			"-svtav1-params", "tune=0:enable-overlays=1",
		)
	}

	args = append(args, "-c:a", "copy")
	if spec.CopyMetadata {
		args = append(args, "-map_metadata", "0")
	} else {
		args = append(args, "-map_metadata", "-1")
	}

	if filter := RotationFilter(spec.Rotation); filter != "" {
		args = append(args, "-vf", filter)
	}

	args = append(args, "-f", "mp4", spec.OutputPath)
	return args
}

// RotationFilter maps a rotation angle to its ffmpeg transpose filter
// expression. 0 needs no filter.
func RotationFilter(angle int) string {
	switch angle {
	case 90:
		return "transpose=1"
	case 180:
		return "transpose=2,transpose=2"
	case 270:
		return "transpose=2"
	default:
		return ""
	}
}

// BuildColorFixCommand constructs the remux command for the color-repair
// sub-pipeline: a metadata-only bitstream-filter rewrite of sourcePath
// into colorFixPath, using the given bitstream filter.
func BuildColorFixCommand(sourcePath, colorFixPath, bitstreamFilter string) []string {
	return []string{
		"-y",
		"-i", sourcePath,
		"-c", "copy",
		"-bsf:v", bitstreamFilter,
		colorFixPath,
	}
}
