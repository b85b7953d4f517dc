// Package metadata implements the Metadata Probe Cache: a thread-safe,
// at-most-one-concurrent-probe-per-path cache over ffprobe and the
// optional deep-metadata (exiftool) lookup (§4.3).
package metadata

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/five82/vbcompress/internal/deepmeta"
	"github.com/five82/vbcompress/internal/ffprobe"
	"github.com/five82/vbcompress/internal/job"
)

// DeepMetaProbe abstracts the deep-metadata lookup so the cache can be
// tested without exec'ing exiftool.
type DeepMetaProbe func(path string) (deepmeta.Tags, error)

// ffprobeProbe abstracts the ffprobe lookup so the cache can be tested
// without exec'ing ffprobe.
var ffprobeProbe = ffprobe.Probe

// Cache is the probe cache. At most one ffprobe/exiftool invocation runs
// concurrently for a given path; concurrent callers for the same path
// observe the first caller's result.
type Cache struct {
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*job.Metadata

	useEXIF   bool
	exiftool  DeepMetaProbe
	exifReady bool
	cqRules   []deepmeta.CQRule

	// Prober overrides the ffprobe lookup; defaults to ffprobe.Probe when
	// nil. Exposed so callers outside this package (the scheduler's tests)
	// can substitute a fake without exec'ing a real ffprobe binary.
	Prober func(path string) (*job.Metadata, error)
}

// New creates an empty probe cache. When useEXIF is true and exiftool is
// installed, camera identification is attempted on every probe.
func New(useEXIF bool, cqRules []deepmeta.CQRule) *Cache {
	c := &Cache{
		entries:  make(map[string]*job.Metadata),
		useEXIF:  useEXIF,
		exiftool: deepmeta.Probe,
		cqRules:  cqRules,
	}
	if useEXIF {
		c.exifReady = deepmeta.Available()
	}
	return c
}

// Probe returns the cached Metadata for path, extracting it on miss.
// Concurrent calls for the same path collapse into a single extraction.
func (c *Cache) Probe(path string) (*job.Metadata, error) {
	if meta, ok := c.lookup(path); ok {
		return meta, nil
	}

	v, err, _ := c.group.Do(path, func() (any, error) {
		if meta, ok := c.lookup(path); ok {
			return meta, nil
		}
		meta, err := c.extract(path)
		if err != nil {
			return nil, err
		}
		c.store(path, meta)
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*job.Metadata), nil
}

// Drop evicts path's cached entry. Called by the scheduler when the
// corresponding Job finalizes.
func (c *Cache) Drop(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func (c *Cache) lookup(path string) (*job.Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.entries[path]
	return meta, ok
}

func (c *Cache) store(path string, meta *job.Metadata) {
	c.mu.Lock()
	c.entries[path] = meta
	c.mu.Unlock()
}

func (c *Cache) extract(path string) (*job.Metadata, error) {
	probe := ffprobeProbe
	if c.Prober != nil {
		probe = c.Prober
	}
	meta, err := probe(path)
	if err != nil {
		return nil, err
	}

	if c.useEXIF && c.exifReady {
		tags, err := c.exiftool(path)
		if err == nil {
			// Effective CQ is resolved downstream via config.EffectiveCQ(meta.Camera),
			// which re-matches the same dynamic-quality table against this field.
			if camera, _, _ := deepmeta.Identify(tags, c.cqRules); camera != "" {
				meta.Camera = camera
			}
		}
	}

	return meta, nil
}
