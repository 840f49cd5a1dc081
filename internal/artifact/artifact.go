package artifact

import (
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/docker/go-units"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
)

const (
	DefaultMaxBytes = 10 * 1024 * 1024
	DefaultMaxFiles = 20
)

// DefaultExtensions are the image file extensions collected by default.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".svg"}

// CollectorConfig is the configuration for the collector.
type CollectorConfig struct {
	// Extensions are the collected file extensions, matched case insensitive.
	Extensions []string
	// MaxBytes is the maximum size of a single collected file, bigger files are skipped.
	MaxBytes int64
	MaxFiles int
	Logger   log.Logger
}

func (c *CollectorConfig) defaults() error {
	if len(c.Extensions) == 0 {
		c.Extensions = DefaultExtensions
	}
	exts := make([]string, 0, len(c.Extensions))
	for _, e := range c.Extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	c.Extensions = exts
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "artifact.Collector"})
	return nil
}

// Collector collects the files the executed code left in the job outputs directory.
type Collector struct {
	extensions []string
	maxBytes   int64
	maxFiles   int
	logger     log.Logger
}

// NewCollector returns a new artifact collector.
func NewCollector(cfg CollectorConfig) (*Collector, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Collector{
		extensions: cfg.Extensions,
		maxBytes:   cfg.MaxBytes,
		maxFiles:   cfg.MaxFiles,
		logger:     cfg.Logger,
	}, nil
}

// Collect returns the matching regular files under dir in lexical order, named by their slash
// separated path relative to dir. Symlinks are never followed and files above the size limit
// are skipped.
//
// skip are relative paths that are never collected, the runtime leaves an empty mountpoint in dir
// for every staged file mounted on top of it.
func (c *Collector) Collect(dir string, skip []string) ([]model.Artifact, error) {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[path.Clean(filepath.ToSlash(s))] = true
	}

	var artifacts []model.Artifact
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are created by the untrusted code, skip them.
			c.logger.Warningf("Skipping %s: %s", p, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !slices.Contains(c.extensions, strings.ToLower(filepath.Ext(p))) {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if skipped[rel] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			c.logger.Warningf("Skipping %s: %s", rel, err)
			return nil
		}
		if info.Size() > c.maxBytes {
			c.logger.Warningf("Skipping %s, size %s is above the %s limit", rel, units.HumanSize(float64(info.Size())), units.HumanSize(float64(c.maxBytes)))
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			c.logger.Warningf("Skipping %s: %s", rel, err)
			return nil
		}
		artifacts = append(artifacts, model.Artifact{
			Filename: rel,
			Content:  base64.StdEncoding.EncodeToString(data),
			Size:     int64(len(data)),
		})

		if len(artifacts) >= c.maxFiles {
			c.logger.Warningf("Artifact limit of %d files reached, ignoring the rest", c.maxFiles)
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return artifacts, fmt.Errorf("could not collect artifacts from %s: %w", dir, err)
	}

	return artifacts, nil
}
