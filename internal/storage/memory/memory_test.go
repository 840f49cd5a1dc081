package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/storage/memory"
)

func newJob(id string, acceptedAt time.Time) model.Job {
	return *model.NewJob(id, model.ExecutionRequest{Code: "print(1)", Timeout: time.Second, WorkDir: "/data"}, acceptedAt)
}

func TestRepositoryCRUD(t *testing.T) {
	t0 := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo *memory.Repository) error
		expErr  error
	}{
		"Creating a job should work": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				err := repo.CreateJob(ctx, newJob("01A", t0))
				require.NoError(t, err)

				retrieved, err := repo.GetJob(ctx, "01A")
				require.NoError(t, err)
				assert.Equal(t, "01A", retrieved.ID)
				assert.Equal(t, model.JobStatePending, retrieved.State)
				assert.Equal(t, t0.Add(time.Second), retrieved.Deadline)

				return nil
			},
		},

		"Creating a job without ID should fail": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				return repo.CreateJob(ctx, model.Job{})
			},
			expErr: model.ErrNotValid,
		},

		"Creating a duplicated job should fail": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				require.NoError(t, repo.CreateJob(ctx, newJob("01A", t0)))
				return repo.CreateJob(ctx, newJob("01A", t0))
			},
			expErr: model.ErrAlreadyExists,
		},

		"Getting a missing job should fail": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				_, err := repo.GetJob(ctx, "missing")
				return err
			},
			expErr: model.ErrNotFound,
		},

		"Updating a job should store the new state": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				j := newJob("01A", t0)
				require.NoError(t, repo.CreateJob(ctx, j))

				require.NoError(t, j.Transition(model.JobStateStaging))
				require.NoError(t, repo.UpdateJob(ctx, j))

				retrieved, err := repo.GetJob(ctx, "01A")
				require.NoError(t, err)
				assert.Equal(t, model.JobStateStaging, retrieved.State)
				assert.Equal(t, []model.JobState{model.JobStatePending, model.JobStateStaging}, retrieved.History)
				return nil
			},
		},

		"Updating a missing job should fail": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				return repo.UpdateJob(ctx, newJob("01A", t0))
			},
			expErr: model.ErrNotFound,
		},

		"Deleting a job should remove it": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				require.NoError(t, repo.CreateJob(ctx, newJob("01A", t0)))
				require.NoError(t, repo.DeleteJob(ctx, "01A"))

				_, err := repo.GetJob(ctx, "01A")
				assert.ErrorIs(t, err, model.ErrNotFound)
				return repo.DeleteJob(ctx, "01A")
			},
			expErr: model.ErrNotFound,
		},

		"Listing jobs should return them sorted by acceptance": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				require.NoError(t, repo.CreateJob(ctx, newJob("01C", t0.Add(2*time.Second))))
				require.NoError(t, repo.CreateJob(ctx, newJob("01B", t0)))
				require.NoError(t, repo.CreateJob(ctx, newJob("01A", t0)))

				jobs, err := repo.ListJobs(ctx)
				require.NoError(t, err)
				ids := []string{}
				for _, j := range jobs {
					ids = append(ids, j.ID)
				}
				assert.Equal(t, []string{"01A", "01B", "01C"}, ids)
				return nil
			},
		},

		"Stored jobs should not be modified from the outside": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) error {
				j := newJob("01A", t0)
				require.NoError(t, repo.CreateJob(ctx, j))
				j.History[0] = model.JobStateDone

				retrieved, err := repo.GetJob(ctx, "01A")
				require.NoError(t, err)
				retrieved.History[0] = model.JobStateFailed

				again, err := repo.GetJob(ctx, "01A")
				require.NoError(t, err)
				assert.Equal(t, []model.JobState{model.JobStatePending}, again.History)
				return nil
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: log.Noop})
			require.NoError(t, err)

			err = test.actions(context.Background(), t, repo)

			if test.expErr != nil {
				assert.ErrorIs(t, err, test.expErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
