package fake_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
	"github.com/slok/runbox/internal/sandbox/fake"
)

func TestEngineLifecycle(t *testing.T) {
	spec := model.ContainerSpec{
		Name:   "runbox-test",
		Image:  "runbox-python:latest",
		Labels: map[string]string{model.LabelManaged: "true", model.LabelJobID: "TEST"},
	}

	tests := map[string]struct {
		cfg     fake.EngineConfig
		actions func(ctx context.Context, t *testing.T, eng *fake.Engine) error
		expErr  bool
	}{
		"A container that exits should return its exit code and output": {
			cfg: fake.EngineConfig{
				Behavior: func(model.ContainerSpec) fake.Behavior {
					return fake.Behavior{Output: "hello\n", ExitCode: 3}
				},
			},
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				id, err := eng.Create(ctx, spec)
				require.NoError(t, err)
				require.NoError(t, eng.Start(ctx, id))

				code, err := eng.Wait(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, 3, code)

				out, truncated, err := eng.Logs(ctx, id, 1024)
				require.NoError(t, err)
				assert.Equal(t, "hello\n", out)
				assert.False(t, truncated)

				return eng.Remove(ctx, id)
			},
		},

		"Logs above the limit should be truncated": {
			cfg: fake.EngineConfig{
				Behavior: func(model.ContainerSpec) fake.Behavior {
					return fake.Behavior{Output: "0123456789"}
				},
			},
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				id, err := eng.Create(ctx, spec)
				require.NoError(t, err)
				require.NoError(t, eng.Start(ctx, id))

				out, truncated, err := eng.Logs(ctx, id, 4)
				require.NoError(t, err)
				assert.Equal(t, "0123", out)
				assert.True(t, truncated)
				return nil
			},
		},

		"Stopping a running container should unblock the wait with a kill exit code": {
			cfg: fake.EngineConfig{
				Behavior: func(model.ContainerSpec) fake.Behavior {
					return fake.Behavior{Duration: -1}
				},
			},
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				id, err := eng.Create(ctx, spec)
				require.NoError(t, err)
				require.NoError(t, eng.Start(ctx, id))

				go func() {
					time.Sleep(20 * time.Millisecond)
					_ = eng.Stop(context.Background(), id)
				}()

				code, err := eng.Wait(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, 137, code)

				// Stopping twice is fine.
				return eng.Stop(ctx, id)
			},
		},

		"Waiting a running container should end with the context": {
			cfg: fake.EngineConfig{
				Behavior: func(model.ContainerSpec) fake.Behavior {
					return fake.Behavior{Duration: -1}
				},
			},
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				id, err := eng.Create(ctx, spec)
				require.NoError(t, err)
				require.NoError(t, eng.Start(ctx, id))

				ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()
				_, err = eng.Wait(ctx, id)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
				return nil
			},
		},

		"Containers should be reachable by name": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				_, err := eng.Create(ctx, spec)
				require.NoError(t, err)
				require.NoError(t, eng.Remove(ctx, spec.Name))

				infos, err := eng.ListManaged(ctx)
				require.NoError(t, err)
				assert.Empty(t, infos)
				assert.Len(t, eng.Removed(), 1)
				return nil
			},
		},

		"Creating two containers with the same name should fail": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				_, err := eng.Create(ctx, spec)
				require.NoError(t, err)
				_, err = eng.Create(ctx, spec)
				assert.ErrorIs(t, err, model.ErrAlreadyExists)
				return err
			},
			expErr: true,
		},

		"Removing a missing container should return not found": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				err := eng.Remove(ctx, "missing")
				assert.ErrorIs(t, err, model.ErrNotFound)
				return err
			},
			expErr: true,
		},

		"Injected create errors should be returned": {
			cfg: fake.EngineConfig{CreateErr: errors.New("boom")},
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				_, err := eng.Create(ctx, spec)
				assert.Empty(t, eng.Created())
				return err
			},
			expErr: true,
		},

		"Listing should return the managed container information": {
			actions: func(ctx context.Context, t *testing.T, eng *fake.Engine) error {
				id, err := eng.Create(ctx, spec)
				require.NoError(t, err)

				infos, err := eng.ListManaged(ctx)
				require.NoError(t, err)
				require.Len(t, infos, 1)
				assert.WithinDuration(t, time.Now(), infos[0].CreatedAt, time.Minute)
				infos[0].CreatedAt = time.Time{}
				assert.Equal(t, []model.ContainerInfo{
					{ID: id, Name: "runbox-test", JobID: "TEST", State: "created", Labels: spec.Labels},
				}, infos)
				return nil
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test.cfg.Logger = log.Noop
			eng, err := fake.NewEngine(test.cfg)
			require.NoError(t, err)

			err = test.actions(context.Background(), t, eng)

			if test.expErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEngineCheck(t *testing.T) {
	tests := map[string]struct {
		pingErr   error
		expStatus model.CheckStatus
	}{
		"A reachable runtime should return an ok check.": {
			expStatus: model.CheckStatusOK,
		},

		"An unreachable runtime should return an error check.": {
			pingErr:   errors.New("down"),
			expStatus: model.CheckStatusError,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			eng, err := fake.NewEngine(fake.EngineConfig{PingErr: test.pingErr})
			require.NoError(t, err)

			results := eng.Check(context.Background())
			if assert.Len(results, 1) {
				assert.Equal(test.expStatus, results[0].Status)
			}
			assert.Equal(test.pingErr, eng.Ping(context.Background()))
		})
	}
}
