package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/runbox/internal/log"
	"github.com/slok/runbox/internal/model"
)

func TestParseRefFile(t *testing.T) {
	tests := map[string]struct {
		spec       string
		expRefFile model.RefFile
	}{
		"A URL should use the URL filename": {
			spec:       "https://example.com/data.csv",
			expRefFile: model.RefFile{URL: "https://example.com/data.csv"},
		},
		"A URL with query values should not be split": {
			spec:       "https://example.com/get?file=data.csv",
			expRefFile: model.RefFile{URL: "https://example.com/get?file=data.csv"},
		},
		"A named URL should set the filename": {
			spec:       "input.csv=https://example.com/get?file=data.csv",
			expRefFile: model.RefFile{URL: "https://example.com/get?file=data.csv", Filename: "input.csv"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expRefFile, parseRefFile(tc.spec))
		})
	}
}

func TestRootCommandLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	policyPath := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(policyPath, []byte("image: custom:1\nenv:\n  FOO: policy\n"), 0o644))

	tests := map[string]struct {
		rootCmd   RootCommand
		expPolicy func() model.Policy
		expErr    bool
	}{
		"A missing default policy file should use the default policy": {
			rootCmd: RootCommand{
				PolicyPath:        filepath.Join(dir, "missing.yaml"),
				defaultPolicyPath: filepath.Join(dir, "missing.yaml"),
				StagingRoot:       "/var/lib/runbox",
			},
			expPolicy: func() model.Policy {
				p := model.DefaultPolicy()
				p.Staging.Root = "/var/lib/runbox"
				return p
			},
		},

		"A missing explicit policy file should fail": {
			rootCmd: RootCommand{
				PolicyPath:        filepath.Join(dir, "missing.yaml"),
				defaultPolicyPath: filepath.Join(dir, "default.yaml"),
			},
			expErr: true,
		},

		"The policy file and the env flags should be applied": {
			rootCmd: RootCommand{
				PolicyPath:  policyPath,
				StagingRoot: "/var/lib/runbox",
				EnvSpecs:    []string{"FOO=flag", "BAR=1"},
			},
			expPolicy: func() model.Policy {
				p := model.DefaultPolicy()
				p.Image = "custom:1"
				p.Env = map[string]string{"FOO": "flag", "BAR": "1"}
				p.Staging.Root = "/var/lib/runbox"
				return p
			},
		},

		"Invalid env flags should fail": {
			rootCmd: RootCommand{
				PolicyPath: policyPath,
				EnvSpecs:   []string{"1BAD=x"},
			},
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tc.rootCmd.Logger = log.Noop

			policy, err := tc.rootCmd.LoadPolicy(context.Background())

			if tc.expErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expPolicy(), policy)
		})
	}
}

func TestCheckStagingRoot(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	root := filepath.Join(t.TempDir(), "staging")
	res := checkStagingRoot(root)
	assert.Equal(model.CheckStatusOK, res.Status)

	// The probe directory is removed.
	entries, err := os.ReadDir(root)
	require.NoError(err)
	assert.Empty(entries)

	// A file where the root should be.
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(os.WriteFile(file, []byte("x"), 0o644))
	res = checkStagingRoot(file)
	assert.Equal(model.CheckStatusError, res.Status)
}

func TestReapMinAge(t *testing.T) {
	policy := model.DefaultPolicy()
	policy.Execution.MaxTimeout = time.Hour
	policy.Execution.CleanupTimeout = time.Minute

	tests := map[string]struct {
		flag      time.Duration
		expMinAge time.Duration
	}{
		"Without flag the job lifetime should be used.": {
			expMinAge: time.Hour + time.Minute,
		},
		"An explicit flag should be used.": {
			flag:      5 * time.Minute,
			expMinAge: 5 * time.Minute,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expMinAge, reapMinAge(test.flag, policy, log.Noop))
		})
	}
}

func TestCheckJobUser(t *testing.T) {
	tests := map[string]struct {
		user      string
		euid      int
		expStatus model.CheckStatus
	}{
		"Running as root should pass.": {
			user:      "65534:65534",
			euid:      0,
			expStatus: model.CheckStatusOK,
		},
		"Jobs running with the same uid should pass.": {
			user:      "1000:1000",
			euid:      1000,
			expStatus: model.CheckStatusOK,
		},
		"Jobs running with another uid should warn.": {
			user:      "65534:65534",
			euid:      1000,
			expStatus: model.CheckStatusWarning,
		},
		"Named users can't be verified.": {
			user:      "sandbox",
			euid:      1000,
			expStatus: model.CheckStatusWarning,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expStatus, checkJobUser(test.user, test.euid).Status)
		})
	}
}
