// Package config provides configuration types and defaults for vbcompress.
package config

import "errors"

// Sentinel errors for configuration validation.
var (
	// ErrInvalidInputDir indicates the input directory was not set.
	ErrInvalidInputDir = errors.New("invalid input directory")

	// ErrInvalidThreads indicates the concurrency cap is outside [MinCap, MaxCap].
	ErrInvalidThreads = errors.New("invalid threads")

	// ErrInvalidPrefetchFactor indicates a prefetch factor below 1.
	ErrInvalidPrefetchFactor = errors.New("invalid prefetch factor")

	// ErrInvalidCompressionRatio indicates a min_compression_ratio outside [0, 1).
	ErrInvalidCompressionRatio = errors.New("invalid min compression ratio")

	// ErrInvalidExtensions indicates an empty extension whitelist.
	ErrInvalidExtensions = errors.New("invalid extensions")

	// ErrInvalidRotationAngle indicates an autorotate rule with a bad angle or pattern.
	ErrInvalidRotationAngle = errors.New("invalid rotation angle")
)
