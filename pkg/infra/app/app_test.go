package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptions struct {
	Name    string       `mapstructure:"name"`
	Limits  limitOptions `mapstructure:"limits"`
	nfs     NamedFlagSets
	invalid bool
}

type limitOptions struct {
	Quota  int    `mapstructure:"quota"`
	APIKey string `mapstructure:"api-key"`
}

func newTestOptions() *testOptions {
	o := &testOptions{Name: "default", Limits: limitOptions{Quota: 8}}
	fs := o.nfs.FlagSet("limits")
	fs.IntVar(&o.Limits.Quota, "limits.quota", o.Limits.Quota, "quota")
	fs.StringVar(&o.Limits.APIKey, "limits.api-key", o.Limits.APIKey, "key")
	o.nfs.FlagSet("generic").StringVar(&o.Name, "name", o.Name, "name")
	return o
}

func (o *testOptions) Flags() NamedFlagSets { return o.nfs }
func (o *testOptions) Complete() error      { return nil }
func (o *testOptions) Validate() error {
	if o.invalid {
		return fmt.Errorf("invalid")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, opts *testOptions, args ...string) error {
	t.Helper()
	a := NewApp(
		WithName("test-bot"),
		WithNoVersion(),
		WithOptions(opts),
		WithRunFunc(func(ctx context.Context) error { return nil }),
	)
	a.Command().SetArgs(args)
	return a.Command().Execute()
}

func TestApp_ConfigFileAndEnvExpansion(t *testing.T) {
	t.Setenv("BOT_TEST_KEY", "secret")
	path := writeConfig(t, "name: from-file\nlimits:\n  quota: 5\n  api-key: ${BOT_TEST_KEY}\n")

	opts := newTestOptions()
	require.NoError(t, run(t, opts, "--config", path))

	assert.Equal(t, "from-file", opts.Name)
	assert.Equal(t, 5, opts.Limits.Quota)
	assert.Equal(t, "secret", opts.Limits.APIKey)
}

func TestApp_FlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, "limits:\n  quota: 5\n")

	opts := newTestOptions()
	require.NoError(t, run(t, opts, "--config", path, "--limits.quota=11"))
	assert.Equal(t, 11, opts.Limits.Quota)
}

func TestApp_EnvOverridesDefault(t *testing.T) {
	t.Setenv("TEST_BOT_LIMITS_QUOTA", "3")
	path := writeConfig(t, "name: x\n")

	opts := newTestOptions()
	require.NoError(t, run(t, opts, "--config", path))
	assert.Equal(t, 3, opts.Limits.Quota)
}

func TestApp_ValidateError(t *testing.T) {
	opts := newTestOptions()
	opts.invalid = true
	path := writeConfig(t, "name: x\n")
	assert.EqualError(t, run(t, opts, "--config", path), "invalid")
}

func TestApp_MissingExplicitConfig(t *testing.T) {
	err := run(t, newTestOptions(), "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "ANTICORRUPTION_BOT", EnvPrefix("anticorruption-bot"))
}
