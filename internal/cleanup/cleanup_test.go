package cleanup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/runbox/internal/cleanup"
	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/sandbox/fake"
	"github.com/slok/runbox/internal/sandbox/sandboxmock"
)

func TestNewManager(t *testing.T) {
	tests := map[string]struct {
		config cleanup.ManagerConfig
		expErr bool
	}{
		"valid config should create the manager": {
			config: cleanup.ManagerConfig{Runtime: &sandboxmock.MockRuntime{}, StagingRoot: "/tmp/runbox"},
		},
		"missing runtime should fail": {
			config: cleanup.ManagerConfig{StagingRoot: "/tmp/runbox"},
			expErr: true,
		},
		"missing staging root should fail": {
			config: cleanup.ManagerConfig{Runtime: &sandboxmock.MockRuntime{}},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			m, err := cleanup.NewManager(test.config)

			if test.expErr {
				require.Error(err)
				require.Nil(m)
			} else {
				require.NoError(err)
				require.NotNil(m)
			}
		})
	}
}

func TestManagerCleanup(t *testing.T) {
	tests := map[string]struct {
		job         func(root string) *model.Job
		mock        func(m *sandboxmock.MockRuntime)
		expDirGone  bool
		expDirAlive bool
	}{
		"A job with a container and staging should have both removed.": {
			job: func(root string) *model.Job {
				return &model.Job{ID: "01A", ContainerID: "c1", ContainerName: "runbox-01a", Staging: &model.Staging{Dir: filepath.Join(root, "job-01a-1")}}
			},
			mock: func(m *sandboxmock.MockRuntime) {
				m.On("Stop", mock.Anything, "c1").Once().Return(nil)
				m.On("Remove", mock.Anything, "c1").Once().Return(nil)
			},
			expDirGone: true,
		},

		"A job that failed mid creation should be removed by name.": {
			job: func(root string) *model.Job {
				return &model.Job{ID: "01A", ContainerName: "runbox-01a", Staging: &model.Staging{Dir: filepath.Join(root, "job-01a-1")}}
			},
			mock: func(m *sandboxmock.MockRuntime) {
				m.On("Stop", mock.Anything, "runbox-01a").Once().Return(nil)
				m.On("Remove", mock.Anything, "runbox-01a").Once().Return(nil)
			},
			expDirGone: true,
		},

		"A missing container should be ignored.": {
			job: func(root string) *model.Job {
				return &model.Job{ID: "01A", ContainerName: "runbox-01a", Staging: &model.Staging{Dir: filepath.Join(root, "job-01a-1")}}
			},
			mock: func(m *sandboxmock.MockRuntime) {
				m.On("Stop", mock.Anything, "runbox-01a").Once().Return(model.ErrNotFound)
			},
			expDirGone: true,
		},

		"A stop failure should still remove the container and the staging.": {
			job: func(root string) *model.Job {
				return &model.Job{ID: "01A", ContainerID: "c1", Staging: &model.Staging{Dir: filepath.Join(root, "job-01a-1")}}
			},
			mock: func(m *sandboxmock.MockRuntime) {
				m.On("Stop", mock.Anything, "c1").Once().Return(errors.New("boom"))
				m.On("Remove", mock.Anything, "c1").Once().Return(nil)
			},
			expDirGone: true,
		},

		"A remove failure should not stop the staging removal.": {
			job: func(root string) *model.Job {
				return &model.Job{ID: "01A", ContainerID: "c1", Staging: &model.Staging{Dir: filepath.Join(root, "job-01a-1")}}
			},
			mock: func(m *sandboxmock.MockRuntime) {
				m.On("Stop", mock.Anything, "c1").Once().Return(nil)
				m.On("Remove", mock.Anything, "c1").Once().Return(errors.New("daemon gone"))
			},
			expDirGone: true,
		},

		"A job without container should only remove the staging.": {
			job: func(root string) *model.Job {
				return &model.Job{ID: "01A", Staging: &model.Staging{Dir: filepath.Join(root, "job-01a-1")}}
			},
			mock:       func(m *sandboxmock.MockRuntime) {},
			expDirGone: true,
		},

		"A staging directory outside the root should not be removed.": {
			job: func(root string) *model.Job {
				return &model.Job{ID: "01A", Staging: &model.Staging{Dir: root}}
			},
			mock:        func(m *sandboxmock.MockRuntime) {},
			expDirAlive: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			root := t.TempDir()
			job := test.job(root)
			if job.Staging != nil {
				require.NoError(os.MkdirAll(filepath.Join(job.Staging.Dir, "inputs"), 0o755))
			}

			m := &sandboxmock.MockRuntime{}
			test.mock(m)

			mgr, err := cleanup.NewManager(cleanup.ManagerConfig{Runtime: m, StagingRoot: root, Logger: log.Noop})
			require.NoError(err)

			mgr.Cleanup(context.Background(), job)

			if test.expDirGone {
				assert.NoDirExists(job.Staging.Dir)
			}
			if test.expDirAlive {
				assert.DirExists(job.Staging.Dir)
			}
			m.AssertExpectations(t)
		})
	}
}

func TestManagerCleanupIsIdempotentAndIgnoresCancellation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	root := t.TempDir()
	eng, err := fake.NewEngine(fake.EngineConfig{
		Behavior: func(model.ContainerSpec) fake.Behavior { return fake.Behavior{Duration: -1} },
	})
	require.NoError(err)

	id, err := eng.Create(context.Background(), model.ContainerSpec{Name: "runbox-01a"})
	require.NoError(err)
	require.NoError(eng.Start(context.Background(), id))

	dir := filepath.Join(root, "job-01a-1")
	require.NoError(os.MkdirAll(dir, 0o755))
	job := &model.Job{ID: "01A", ContainerID: id, ContainerName: "runbox-01a", Staging: &model.Staging{Dir: dir}}

	mgr, err := cleanup.NewManager(cleanup.ManagerConfig{Runtime: eng, StagingRoot: root})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mgr.Cleanup(ctx, job)
	mgr.Cleanup(ctx, job)

	assert.NoDirExists(dir)
	assert.Equal([]string{id}, eng.Removed())
	infos, err := eng.ListManaged(context.Background())
	require.NoError(err)
	assert.Empty(infos)
}

func TestManagerCleanupLockedStaging(t *testing.T) {
	require := require.New(t)

	root := t.TempDir()
	dir := filepath.Join(root, "job-01a-1")
	locked := filepath.Join(dir, "outputs", "locked")
	require.NoError(os.MkdirAll(filepath.Join(locked, "deep"), 0o755))
	require.NoError(os.WriteFile(filepath.Join(locked, "deep", "out.png"), []byte("x"), 0o644))
	require.NoError(os.Chmod(filepath.Join(locked, "deep"), 0o500))
	require.NoError(os.Chmod(locked, 0o500))
	// Leave the tree removable for the test cleanup if the manager fails.
	t.Cleanup(func() {
		_ = os.Chmod(locked, 0o755)
		_ = os.Chmod(filepath.Join(locked, "deep"), 0o755)
	})

	mgr, err := cleanup.NewManager(cleanup.ManagerConfig{Runtime: &sandboxmock.MockRuntime{}, StagingRoot: root})
	require.NoError(err)

	mgr.Cleanup(context.Background(), &model.Job{ID: "01A", Staging: &model.Staging{Dir: dir}})

	assert.NoDirExists(t, dir)
}
