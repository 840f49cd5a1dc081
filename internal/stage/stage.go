package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/docker/go-units"
	"golang.org/x/sync/errgroup"

	"github.com/slok/runbox/internal/conventions"
	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
)

const (
	DefaultMaxFileBytes  = 100 * 1024 * 1024
	DefaultMaxTotalBytes = 500 * 1024 * 1024
	DefaultConcurrency   = 4
)

// DownloadError is returned when a ref file could not be staged.
type DownloadError struct {
	// URL is the ref file that failed, empty when the failure is not related to a single file.
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("staging failed: %s", e.Err)
	}
	return fmt.Sprintf("could not download %s: %s", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// StagerConfig is the configuration for the stager.
type StagerConfig struct {
	// Root is the directory where every job staging directory is created.
	Root          string
	MaxFileBytes  int64
	MaxTotalBytes int64
	// Concurrency is the maximum number of parallel downloads per job.
	Concurrency int
	HTTPClient  *http.Client
	Logger      log.Logger
}

func (c *StagerConfig) defaults() error {
	if c.Root == "" {
		c.Root = conventions.DefaultStagingRoot()
	}
	if !filepath.IsAbs(c.Root) {
		abs, err := filepath.Abs(c.Root)
		if err != nil {
			return fmt.Errorf("could not get staging root absolute path: %w", err)
		}
		c.Root = abs
	}
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = DefaultMaxFileBytes
	}
	if c.MaxTotalBytes <= 0 {
		c.MaxTotalBytes = DefaultMaxTotalBytes
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "stage.Stager"})
	return nil
}

// Stager downloads the ref files of a job into its own staging directory.
type Stager struct {
	root          string
	maxFileBytes  int64
	maxTotalBytes int64
	concurrency   int
	httpClient    *http.Client
	logger        log.Logger
}

// NewStager returns a new stager.
func NewStager(cfg StagerConfig) (*Stager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Stager{
		root:          cfg.Root,
		maxFileBytes:  cfg.MaxFileBytes,
		maxTotalBytes: cfg.MaxTotalBytes,
		concurrency:   cfg.Concurrency,
		httpClient:    cfg.HTTPClient,
		logger:        cfg.Logger,
	}, nil
}

// Root returns the staging root directory.
func (s *Stager) Root() string { return s.root }

// Stage creates the job staging directory and downloads all the ref files into it. The
// downloads are bound to ctx, so the job deadline must travel in it.
//
// On any failure the job directory is removed and a *DownloadError is returned.
func (s *Stager) Stage(ctx context.Context, jobID string, refs []model.RefFile) (*model.Staging, error) {
	logger := s.logger.WithValues(log.Kv{"job": jobID})

	// Resolve everything before touching the filesystem or the network.
	names, err := resolveFilenames(refs)
	if err != nil {
		return nil, err
	}

	staging, err := s.createJobDir(jobID)
	if err != nil {
		return nil, &DownloadError{Err: err}
	}

	files, err := s.downloadAll(ctx, staging.InputsDir, refs, names)
	if err != nil {
		if rmErr := os.RemoveAll(staging.Dir); rmErr != nil {
			logger.Warningf("Could not remove staging directory %s: %s", staging.Dir, rmErr)
		}
		return nil, err
	}
	staging.Files = files

	var total int64
	for _, f := range files {
		total += f.Size
	}
	logger.Debugf("Staged %d files (%s) in %s", len(files), units.BytesSize(float64(total)), staging.Dir)

	return staging, nil
}

func (s *Stager) createJobDir(jobID string) (*model.Staging, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("could not create staging root: %w", err)
	}

	dir, err := os.MkdirTemp(s.root, conventions.JobDirPattern(jobID))
	if err != nil {
		return nil, fmt.Errorf("could not create job staging directory: %w", err)
	}

	staging := &model.Staging{
		Dir:        dir,
		InputsDir:  filepath.Join(dir, conventions.InputsDir),
		OutputsDir: filepath.Join(dir, conventions.OutputsDir),
	}
	// The job dir must be traversable by the unprivileged container user.
	err = errors.Join(
		os.Chmod(dir, 0o755),
		os.Mkdir(staging.InputsDir, 0o755),
		os.Mkdir(staging.OutputsDir, 0o777),
		os.Chmod(staging.OutputsDir, 0o777),
	)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("could not prepare job staging directory: %w", err)
	}

	return staging, nil
}

func (s *Stager) downloadAll(ctx context.Context, inputsDir string, refs []model.RefFile, names []string) ([]model.StagedFile, error) {
	files := make([]model.StagedFile, len(refs))
	var total atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			dst := filepath.Join(inputsDir, filepath.FromSlash(names[i]))
			size, err := s.download(gctx, ref.URL, dst, &total)
			if err != nil {
				return &DownloadError{URL: ref.URL, Err: err}
			}
			files[i] = model.StagedFile{
				Name: names[i],
				Path: dst,
				Size: size,
				URL:  ref.URL,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return files, nil
}

func (s *Stager) download(ctx context.Context, rawURL, dst string, total *atomic.Int64) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > s.maxFileBytes {
		return 0, fmt.Errorf("file size %s exceeds the maximum of %s", units.BytesSize(float64(resp.ContentLength)), units.BytesSize(float64(s.maxFileBytes)))
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("creating directory for %s: %w", dst, err)
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("creating file %s: %w", dst, err)
	}
	defer f.Close()

	w := &budgetWriter{
		w:        f,
		maxFile:  s.maxFileBytes,
		maxTotal: s.maxTotalBytes,
		total:    total,
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("writing file %s: %w", dst, err)
	}
	// Readable by the container user regardless of the process umask.
	if err := f.Chmod(0o644); err != nil {
		return 0, fmt.Errorf("setting file %s permissions: %w", dst, err)
	}

	return n, nil
}

// budgetWriter fails as soon as the file or the job aggregated size budget is exceeded.
type budgetWriter struct {
	w        io.Writer
	written  int64
	maxFile  int64
	maxTotal int64
	total    *atomic.Int64
}

func (b *budgetWriter) Write(p []byte) (int, error) {
	if b.written+int64(len(p)) > b.maxFile {
		return 0, fmt.Errorf("file exceeds the maximum size of %s", units.BytesSize(float64(b.maxFile)))
	}
	if b.total.Add(int64(len(p))) > b.maxTotal {
		return 0, fmt.Errorf("ref files exceed the maximum total size of %s", units.BytesSize(float64(b.maxTotal)))
	}
	n, err := b.w.Write(p)
	b.written += int64(n)
	return n, err
}

// resolveFilenames returns the staged filename of each ref file.
func resolveFilenames(refs []model.RefFile) ([]string, error) {
	names := make([]string, len(refs))
	seen := make(map[string]bool, len(refs))
	for i, ref := range refs {
		name, err := ResolveFilename(ref)
		if err != nil {
			return nil, &DownloadError{URL: ref.URL, Err: err}
		}
		if seen[name] {
			return nil, &DownloadError{URL: ref.URL, Err: fmt.Errorf("duplicated filename %q: %w", name, model.ErrAlreadyExists)}
		}
		seen[name] = true
		names[i] = name
	}

	return names, nil
}

// ResolveFilename validates the ref file URL and returns the relative filename it will be
// staged as. When the ref file has no filename, the last URL path segment is used.
func ResolveFilename(ref model.RefFile) (string, error) {
	u, err := url.Parse(ref.URL)
	if err != nil {
		return "", fmt.Errorf("malformed url: %w", model.ErrNotValid)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q, only http and https are allowed: %w", u.Scheme, model.ErrNotValid)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url without host: %w", model.ErrNotValid)
	}

	name := ref.Filename
	if name == "" {
		// u.Path is already unescaped.
		name = path.Base(u.Path)
		if name == "/" || name == "." {
			return "", fmt.Errorf("filename can't be derived from the url path: %w", model.ErrNotValid)
		}
	}

	if strings.Contains(name, `\`) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("filename %q must be a relative path inside the work dir: %w", name, model.ErrNotValid)
	}
	name = path.Clean(name)
	if name == "." {
		return "", fmt.Errorf("filename %q is not a file: %w", name, model.ErrNotValid)
	}

	return name, nil
}
