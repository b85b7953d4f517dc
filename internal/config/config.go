// Package config provides configuration types and defaults for vbcompress.
package config

import (
	"fmt"
	"regexp"
	"strings"
)

// Default constants.
const (
	// DefaultCQ is the default constant-quality knob applied when no
	// dynamic-quality override matches.
	DefaultCQ int = 27

	// MinCap and MaxCap bound the concurrency cap (§5, §6: threads).
	MinCap int = 1
	MaxCap int = 16

	// MaxWorkerPool is the hardware-encoder session-limit ceiling on
	// simultaneous OS-level workers; the cap gates submission beneath it.
	MaxWorkerPool int = 16

	// DefaultPrefetchFactor is the in-flight multiplier applied to the cap.
	DefaultPrefetchFactor int = 1

	// DefaultMinSizeBytes is the discovery size floor.
	DefaultMinSizeBytes int64 = 1 << 20 // 1 MiB

	// DefaultMinCompressionRatio is the minimum required size reduction
	// (1 - output/input) before an encode is kept over the original.
	DefaultMinCompressionRatio float64 = 0.0

	// OutputDirSuffix is appended to the input root's final path segment
	// to derive the parallel output tree.
	OutputDirSuffix string = "_out"

	// MaxDiscoveryDepth bounds how many directory levels below the input
	// root are walked.
	MaxDiscoveryDepth int = 3

	// CanonicalContainerExt is the canonical output container extension.
	CanonicalContainerExt string = ".mp4"
)

// DefaultExtensions is the default discovery extension whitelist.
func DefaultExtensions() []string {
	return []string{".mp4", ".mov", ".avi", ".mkv", ".m4v", ".3gp", ".mts", ".m2ts"}
}

// DynamicCQRule maps a camera-identifier substring to a quality-knob
// override. Rules are matched in order; the first match wins.
type DynamicCQRule struct {
	Substring string
	CQ        int
}

// AutorotateRule maps a filename pattern to a rotation angle. Rules are
// matched in order; the first match wins. Angle must be one of
// {0, 90, 180, 270}.
type AutorotateRule struct {
	Pattern *regexp.Regexp
	Angle   int
}

// Config holds all configuration for a batch transcoding run.
type Config struct {
	// Input/output paths.
	InputDir string
	LogDir   string // Defaults to the output root if empty.

	// Concurrency.
	Threads        int // Initial concurrency cap, [MinCap, MaxCap].
	PrefetchFactor int // In-flight multiplier, >= 1.

	// Encode path selection and quality.
	GPU bool // Selects hardware vs. software encode path.
	CQ  int  // Default constant-quality knob.

	// Metadata handling.
	CopyMetadata bool // Post-encode deep-metadata copy pass.
	UseEXIF      bool // Enable deep-metadata probing for camera identification.

	// Discovery filters.
	Extensions   []string
	MinSizeBytes int64

	// Camera-aware quality and rotation.
	DynamicCQ       []DynamicCQRule
	FilterCameras   []string
	AutorotateRules []AutorotateRule

	// Skip/retry policy.
	SkipAV1     bool
	CleanErrors bool

	// Quality gate.
	MinCompressionRatio float64

	// Debug.
	Verbose bool
}

// NewConfig creates a new Config with default values for the given input
// directory.
func NewConfig(inputDir string) *Config {
	return &Config{
		InputDir:            inputDir,
		Threads:             MaxCap,
		PrefetchFactor:      DefaultPrefetchFactor,
		GPU:                 false,
		CQ:                  DefaultCQ,
		CopyMetadata:        false,
		UseEXIF:             false,
		Extensions:          DefaultExtensions(),
		MinSizeBytes:        DefaultMinSizeBytes,
		SkipAV1:             false,
		CleanErrors:         false,
		MinCompressionRatio: DefaultMinCompressionRatio,
		Verbose:             false,
	}
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithThreads sets the initial concurrency cap.
func WithThreads(n int) Option { return func(c *Config) { c.Threads = n } }

// WithCQ sets the default constant-quality knob.
func WithCQ(cq int) Option { return func(c *Config) { c.CQ = cq } }

// WithGPU selects the hardware encode path.
func WithGPU(enabled bool) Option { return func(c *Config) { c.GPU = enabled } }

// WithCopyMetadata enables the post-encode deep-metadata copy pass.
func WithCopyMetadata(enabled bool) Option { return func(c *Config) { c.CopyMetadata = enabled } }

// WithUseEXIF enables deep-metadata probing for camera identification.
func WithUseEXIF(enabled bool) Option { return func(c *Config) { c.UseEXIF = enabled } }

// WithExtensions overrides the discovery extension whitelist.
func WithExtensions(exts []string) Option { return func(c *Config) { c.Extensions = exts } }

// WithMinSizeBytes sets the discovery size floor.
func WithMinSizeBytes(n int64) Option { return func(c *Config) { c.MinSizeBytes = n } }

// WithDynamicCQ sets the ordered camera-substring → quality-knob overrides.
func WithDynamicCQ(rules []DynamicCQRule) Option {
	return func(c *Config) { c.DynamicCQ = rules }
}

// WithFilterCameras sets the camera-substring whitelist.
func WithFilterCameras(substrings []string) Option {
	return func(c *Config) { c.FilterCameras = substrings }
}

// WithAutorotateRules sets the ordered filename-pattern → rotation-angle rules.
func WithAutorotateRules(rules []AutorotateRule) Option {
	return func(c *Config) { c.AutorotateRules = rules }
}

// WithSkipAV1 enables the av1-skip pre-execution filter.
func WithSkipAV1(enabled bool) Option { return func(c *Config) { c.SkipAV1 = enabled } }

// WithCleanErrors enables deleting `.err` markers at startup.
func WithCleanErrors(enabled bool) Option { return func(c *Config) { c.CleanErrors = enabled } }

// WithPrefetchFactor sets the in-flight multiplier.
func WithPrefetchFactor(n int) Option { return func(c *Config) { c.PrefetchFactor = n } }

// WithMinCompressionRatio sets the minimum required size reduction.
func WithMinCompressionRatio(ratio float64) Option {
	return func(c *Config) { c.MinCompressionRatio = ratio }
}

// WithLogDir overrides the log directory.
func WithLogDir(dir string) Option { return func(c *Config) { c.LogDir = dir } }

// WithVerbose enables verbose logging.
func WithVerbose(enabled bool) Option { return func(c *Config) { c.Verbose = enabled } }

// Apply applies a set of options to the Config in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.InputDir == "" {
		return fmt.Errorf("%w: input directory is required", ErrInvalidInputDir)
	}

	if c.Threads < MinCap || c.Threads > MaxCap {
		return fmt.Errorf("%w: threads must be between %d and %d, got %d", ErrInvalidThreads, MinCap, MaxCap, c.Threads)
	}

	if c.PrefetchFactor < 1 {
		return fmt.Errorf("%w: prefetch_factor must be at least 1, got %d", ErrInvalidPrefetchFactor, c.PrefetchFactor)
	}

	if c.MinCompressionRatio < 0 || c.MinCompressionRatio >= 1 {
		return fmt.Errorf("%w: min_compression_ratio must be in [0, 1), got %g", ErrInvalidCompressionRatio, c.MinCompressionRatio)
	}

	if len(c.Extensions) == 0 {
		return fmt.Errorf("%w: at least one extension must be configured", ErrInvalidExtensions)
	}

	for _, rule := range c.AutorotateRules {
		switch rule.Angle {
		case 0, 90, 180, 270:
		default:
			return fmt.Errorf("%w: autorotate angle must be one of {0,90,180,270}, got %d", ErrInvalidRotationAngle, rule.Angle)
		}
		if rule.Pattern == nil {
			return fmt.Errorf("%w: autorotate rule missing pattern", ErrInvalidRotationAngle)
		}
	}

	return nil
}

// EffectiveCQ returns the quality knob for the given camera identifier,
// applying the first matching dynamic-quality rule, falling back to CQ.
func (c *Config) EffectiveCQ(camera string) int {
	for _, rule := range c.DynamicCQ {
		if containsFold(camera, rule.Substring) {
			return rule.CQ
		}
	}
	return c.CQ
}

// RotationForName returns the rotation angle for the given filename,
// applying the first matching autorotate rule, defaulting to 0.
func (c *Config) RotationForName(name string) int {
	for _, rule := range c.AutorotateRules {
		if rule.Pattern.MatchString(name) {
			return rule.Angle
		}
	}
	return 0
}

// CameraAllowed reports whether the given camera identifier passes the
// configured camera filter (empty filter accepts all).
func (c *Config) CameraAllowed(camera string) bool {
	if len(c.FilterCameras) == 0 {
		return true
	}
	for _, substr := range c.FilterCameras {
		if containsFold(camera, substr) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
