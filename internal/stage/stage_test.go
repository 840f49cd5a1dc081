package stage_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/stage"
)

func newFileServer(t *testing.T, hits *atomic.Int64) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}

		switch r.URL.Path {
		case "/readme.txt":
			_, _ = w.Write([]byte("hello world"))
		case "/data.csv":
			_, _ = w.Write([]byte("a,b\n1,2\n"))
		case "/my file.txt":
			_, _ = w.Write([]byte("spaces"))
		case "/big.bin":
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		case "/chunked.bin":
			// Flushing before writing the body avoids the Content-Length header.
			w.(http.Flusher).Flush()
			_, _ = w.Write([]byte(strings.Repeat("x", 64)))
		case "/slow.txt":
			select {
			case <-r.Context().Done():
			case <-time.After(5 * time.Second):
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStagerStage(t *testing.T) {
	tests := map[string]struct {
		cfg      stage.StagerConfig
		refs     func(srvURL string) []model.RefFile
		ctx      func() (context.Context, context.CancelFunc)
		expFiles map[string]string
		expErr   bool
		expURL   string
		expNoNet bool
	}{
		"Without ref files the staging directories should be created empty.": {
			refs:     func(string) []model.RefFile { return nil },
			expFiles: map[string]string{},
		},

		"Ref files should be downloaded with their derived or explicit filename.": {
			refs: func(u string) []model.RefFile {
				return []model.RefFile{
					{URL: u + "/readme.txt"},
					{URL: u + "/data.csv", Filename: "inputs/table.csv"},
					{URL: u + "/my%20file.txt"},
				}
			},
			expFiles: map[string]string{
				"readme.txt":       "hello world",
				"inputs/table.csv": "a,b\n1,2\n",
				"my file.txt":      "spaces",
			},
		},

		"A non 2xx response should fail.": {
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/readme.txt"}, {URL: u + "/missing.txt"}}
			},
			expErr: true,
			expURL: "/missing.txt",
		},

		"A file above the size limit announced in the headers should fail.": {
			cfg: stage.StagerConfig{MaxFileBytes: 10},
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/big.bin"}}
			},
			expErr: true,
			expURL: "/big.bin",
		},

		"A streamed file above the size limit should fail.": {
			cfg: stage.StagerConfig{MaxFileBytes: 10},
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/chunked.bin"}}
			},
			expErr: true,
			expURL: "/chunked.bin",
		},

		"Files above the total size limit should fail.": {
			cfg: stage.StagerConfig{MaxFileBytes: 100, MaxTotalBytes: 100},
			refs: func(u string) []model.RefFile {
				return []model.RefFile{
					{URL: u + "/big.bin", Filename: "a.bin"},
					{URL: u + "/big.bin", Filename: "b.bin"},
				}
			},
			expErr: true,
		},

		"A non HTTP scheme should fail without network access.": {
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/readme.txt"}, {URL: "file:///etc/passwd"}}
			},
			expErr:   true,
			expURL:   "file:///etc/passwd",
			expNoNet: true,
		},

		"A filename escaping the work dir should fail without network access.": {
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/readme.txt", Filename: "../../etc/passwd"}}
			},
			expErr:   true,
			expNoNet: true,
		},

		"An absolute filename should fail without network access.": {
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/readme.txt", Filename: "/etc/passwd"}}
			},
			expErr:   true,
			expNoNet: true,
		},

		"Duplicated filenames should fail without network access.": {
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/readme.txt"}, {URL: u + "/data.csv", Filename: "readme.txt"}}
			},
			expErr:   true,
			expNoNet: true,
		},

		"A URL without path segment should fail without network access.": {
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/"}}
			},
			expErr:   true,
			expNoNet: true,
		},

		"The job deadline should stop the downloads.": {
			refs: func(u string) []model.RefFile {
				return []model.RefFile{{URL: u + "/slow.txt"}}
			},
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
			expErr: true,
			expURL: "/slow.txt",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			var hits atomic.Int64
			srv := newFileServer(t, &hits)

			root := t.TempDir()
			test.cfg.Root = root
			test.cfg.Logger = log.Noop
			stager, err := stage.NewStager(test.cfg)
			require.NoError(err)

			ctx := context.Background()
			if test.ctx != nil {
				var cancel context.CancelFunc
				ctx, cancel = test.ctx()
				defer cancel()
			}

			staging, err := stager.Stage(ctx, "01JOB", test.refs(srv.URL))

			if test.expErr {
				require.Error(err)
				assert.Nil(staging)

				var derr *stage.DownloadError
				require.True(errors.As(err, &derr))
				if test.expURL != "" {
					assert.True(strings.HasSuffix(derr.URL, test.expURL), derr.URL)
				}
				if test.expNoNet {
					assert.Zero(hits.Load())
				}

				// Nothing should be left behind.
				entries, err := os.ReadDir(root)
				require.NoError(err)
				assert.Empty(entries)
				return
			}

			require.NoError(err)
			assert.True(strings.HasPrefix(filepath.Base(staging.Dir), "job-01job-"))
			assert.DirExists(staging.InputsDir)
			assert.DirExists(staging.OutputsDir)

			info, err := os.Stat(staging.OutputsDir)
			require.NoError(err)
			assert.Equal(os.FileMode(0o777), info.Mode().Perm())

			gotFiles := map[string]string{}
			for _, f := range staging.Files {
				data, err := os.ReadFile(f.Path)
				require.NoError(err)
				assert.Equal(int64(len(data)), f.Size)
				assert.True(strings.HasPrefix(f.Path, staging.InputsDir))

				info, err := os.Stat(f.Path)
				require.NoError(err)
				assert.Equal(os.FileMode(0o644), info.Mode().Perm())

				gotFiles[f.Name] = string(data)
			}
			assert.Equal(test.expFiles, gotFiles)
		})
	}
}

func TestStagerStageConcurrentJobsAreIsolated(t *testing.T) {
	require := require.New(t)

	srv := newFileServer(t, nil)
	stager, err := stage.NewStager(stage.StagerConfig{Root: t.TempDir()})
	require.NoError(err)

	refs := []model.RefFile{{URL: srv.URL + "/readme.txt"}}
	s1, err := stager.Stage(context.Background(), "01SAME", refs)
	require.NoError(err)
	s2, err := stager.Stage(context.Background(), "01SAME", refs)
	require.NoError(err)

	assert.NotEqual(t, s1.Dir, s2.Dir)
	assert.NotEqual(t, s1.Files[0].Path, s2.Files[0].Path)
}

func TestResolveFilename(t *testing.T) {
	tests := map[string]struct {
		ref     model.RefFile
		expName string
		expErr  bool
	}{
		"The last path segment should be used as the filename.": {
			ref:     model.RefFile{URL: "https://example.com/a/b/data.csv?x=1"},
			expName: "data.csv",
		},
		"Escaped path segments should be unescaped.": {
			ref:     model.RefFile{URL: "https://example.com/my%20data.csv"},
			expName: "my data.csv",
		},
		"An explicit nested filename should be kept.": {
			ref:     model.RefFile{URL: "https://example.com/x", Filename: "data/x.csv"},
			expName: "data/x.csv",
		},
		"An explicit filename should be cleaned.": {
			ref:     model.RefFile{URL: "https://example.com/x", Filename: "data/./x.csv"},
			expName: "data/x.csv",
		},
		"An ftp URL should fail.": {
			ref:    model.RefFile{URL: "ftp://example.com/x.csv"},
			expErr: true,
		},
		"A URL without host should fail.": {
			ref:    model.RefFile{URL: "http:///x.csv"},
			expErr: true,
		},
		"A parent dir filename should fail.": {
			ref:    model.RefFile{URL: "https://example.com/x", Filename: ".."},
			expErr: true,
		},
		"A backslash filename should fail.": {
			ref:    model.RefFile{URL: "https://example.com/x", Filename: `..\x`},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			gotName, err := stage.ResolveFilename(test.ref)

			if test.expErr {
				assert.ErrorIs(err, model.ErrNotValid)
			} else if assert.NoError(err) {
				assert.Equal(test.expName, gotName)
			}
		})
	}
}
