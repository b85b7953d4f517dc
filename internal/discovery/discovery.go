// Package discovery walks the input tree, filters candidates by extension
// and size, and classifies each into one of five buckets using the Marker
// Store (§4.2).
package discovery

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/five82/vbcompress/internal/job"
	"github.com/five82/vbcompress/internal/markerstore"
	"github.com/five82/vbcompress/internal/util"
)

// Logger defines the minimal logging interface discovery needs.
type Logger interface {
	Debug(format string, args ...any)
}

// Result is the outcome of one discovery scan.
type Result struct {
	Ready       []*job.SourceFile
	AlreadyDone int
	ErrGeneral  int
	ErrHW       int
	TooSmall    int
}

// Options configures a scan.
type Options struct {
	InputRoot    string
	OutputRoot   string
	Extensions   []string
	MinSizeBytes int64
	CanonicalExt string
	CleanErrors  bool
	MaxDepth     int // directory levels below InputRoot; 0 means unbounded
}

// Scan walks InputRoot to the bounded depth, excludes the output subtree,
// and classifies every candidate file via the Marker Store.
func Scan(opts Options, store *markerstore.Store, logger Logger) (*Result, error) {
	result := &Result{}

	err := filepath.WalkDir(opts.InputRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if util.IsInsideOutputSubtree(path, opts.OutputRoot) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if opts.MaxDepth > 0 && path != opts.InputRoot {
				depth := depthBelow(opts.InputRoot, path)
				if depth > opts.MaxDepth {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		if !hasAllowedExtension(d.Name(), opts.Extensions) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		if info.Size() < opts.MinSizeBytes {
			result.TooSmall++
			return nil
		}

		outputPath, err := util.ResolveOutputPath(path, opts.InputRoot, opts.OutputRoot, opts.CanonicalExt)
		if err != nil {
			return nil
		}

		classification, err := store.ClassifyExisting(outputPath, path)
		if err != nil {
			return err
		}

		switch classification {
		case markerstore.ClassifyDone:
			result.AlreadyDone++
		case markerstore.ClassifyErrHW:
			result.ErrHW++
		case markerstore.ClassifyErrGeneral:
			if opts.CleanErrors {
				if rmErr := store.DeleteErrMarker(outputPath); rmErr != nil {
					return rmErr
				}
				result.Ready = append(result.Ready, &job.SourceFile{Path: path, Size: info.Size()})
			} else {
				result.ErrGeneral++
			}
		case markerstore.ClassifyNone:
			result.Ready = append(result.Ready, &job.SourceFile{Path: path, Size: info.Size()})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(result.Ready, func(i, j int) bool {
		return strings.ToLower(result.Ready[i].Path) < strings.ToLower(result.Ready[j].Path)
	})

	if logger != nil {
		logDiscovered(result, logger)
	}

	return result, nil
}

func hasAllowedExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range extensions {
		if strings.ToLower(allowed) == ext {
			return true
		}
	}
	return false
}

// depthBelow returns how many path segments dir is below root.
func depthBelow(root, dir string) int {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return 0
	}
	return len(strings.Split(rel, string(filepath.Separator)))
}

func logDiscovered(result *Result, logger Logger) {
	logger.Debug("discovery: %d ready, %d already_done, %d err_general, %d err_hw, %d too_small",
		len(result.Ready), result.AlreadyDone, result.ErrGeneral, result.ErrHW, result.TooSmall)
}
