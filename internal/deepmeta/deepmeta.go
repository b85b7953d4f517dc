// Package deepmeta extracts camera model and encoder tags from a video
// file by shelling out to exiftool, for camera-aware quality selection
// and the abbreviated manufacturer fallback label (§4.3).
package deepmeta

import (
	"encoding/json"
	"os/exec"
	"strings"

	vberrors "github.com/five82/vbcompress/internal/errors"
)

// exifOutput mirrors the single-object array exiftool -j produces.
type exifOutput struct {
	Make           string `json:"Make"`
	Model          string `json:"Model"`
	CompressorName string `json:"CompressorName"`
	EncoderString  string `json:"Encoder"`
	HandlerType    string `json:"HandlerType"`
}

// manufacturerAbbreviations maps a recognized Make/Model substring to the
// abbreviated label used when no dynamic-quality rule matches.
var manufacturerAbbreviations = []struct {
	substring string
	label     string
}{
	{"gopro", "gopro"},
	{"dji", "dji"},
	{"sony", "sony"},
	{"canon", "canon"},
	{"nikon", "nikon"},
	{"apple", "apple"},
	{"samsung", "samsung"},
	{"panasonic", "panasonic"},
	{"insta360", "insta360"},
}

// runner allows tests to substitute the exiftool invocation.
var runner = runExiftool

func runExiftool(path string) ([]byte, error) {
	cmd := exec.Command("exiftool", "-j", "-Make", "-Model", "-CompressorName", "-Encoder", "-HandlerType", path)
	return cmd.Output()
}

// copyRunner allows tests to substitute the metadata-copy invocation.
var copyRunner = runCopyMetadata

func runCopyMetadata(args []string) error {
	return exec.Command("exiftool", args...).Run()
}

// BuildCopyMetadataCommand constructs the exiftool argument list for the
// post-encode deep-metadata copy pass (§4.4): every tag group, including
// GPS, lens info, and maker-notes, is copied from sourcePath onto
// destPath, remapped into both the XMP and container-native tag groups.
func BuildCopyMetadataCommand(sourcePath, destPath string) []string {
	return []string{
		"-overwrite_original",
		"-tagsFromFile", sourcePath,
		"-All:All",
		"-GPS:All",
		"-XMP-exif:All",
		"-QuickTime:All",
		"-extractEmbedded",
		destPath,
	}
}

// CopyMetadata runs the post-encode deep-metadata copy pass, carrying
// every tag from sourcePath onto destPath in place.
func CopyMetadata(sourcePath, destPath string) error {
	return copyRunner(BuildCopyMetadataCommand(sourcePath, destPath))
}

// Available reports whether exiftool is installed and runnable.
func Available() bool {
	return exec.Command("exiftool", "-ver").Run() == nil
}

// Tags holds the raw camera/encoder identifier strings pulled from a file.
type Tags struct {
	Make           string
	Model          string
	CompressorName string
	Encoder        string
}

// identifier is the combined string matched against dynamic-quality and
// camera-filter substrings: "<Make> <Model> <CompressorName> <Encoder>".
func (t Tags) identifier() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{t.Make, t.Model, t.CompressorName, t.Encoder} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Probe queries exiftool for a file's camera/encoder tags.
func Probe(path string) (Tags, error) {
	raw, err := runner(path)
	if err != nil {
		return Tags{}, vberrors.WrapExecError("exiftool", err, "")
	}

	var results []exifOutput
	if err := json.Unmarshal(raw, &results); err != nil {
		return Tags{}, vberrors.NewJSONParseError("failed to parse exiftool output for "+path, err)
	}
	if len(results) == 0 {
		return Tags{}, nil
	}

	r := results[0]
	return Tags{
		Make:           r.Make,
		Model:          r.Model,
		CompressorName: r.CompressorName,
		Encoder:        r.EncoderString,
	}, nil
}

// CQRule is the subset of config.DynamicCQRule deepmeta needs, kept local
// to avoid an import cycle with the config package.
type CQRule struct {
	Substring string
	CQ        int
}

// Identify resolves a camera field from the given tags: the first matching
// dynamic-quality rule wins and its substring and CQ are returned; absent a
// match, an abbreviated manufacturer label is returned if recognized.
// matched is false when neither a dynamic-quality rule nor a manufacturer
// abbreviation applies, leaving the camera field empty.
func Identify(tags Tags, rules []CQRule) (camera string, cq int, matched bool) {
	id := tags.identifier()
	if id == "" {
		return "", 0, false
	}

	for _, rule := range rules {
		if containsFold(id, rule.Substring) {
			return rule.Substring, rule.CQ, true
		}
	}

	for _, m := range manufacturerAbbreviations {
		if containsFold(id, m.substring) {
			return m.label, 0, false
		}
	}

	return "", 0, false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
