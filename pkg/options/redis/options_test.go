package redis

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/anticorruption-bot/pkg/utils/json"
)

func TestOptions_Redaction(t *testing.T) {
	o := NewOptions()
	o.Password = "s3cret"

	assert.NotContains(t, o.String(), "s3cret")
	assert.Contains(t, o.String(), redactedPassword)

	data, err := json.Marshal(o)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")
}

func TestOptions_CompleteFromEnv(t *testing.T) {
	t.Setenv(PasswordEnv, "from-env")

	o := NewOptions()
	require.NoError(t, o.Complete())
	assert.Equal(t, "from-env", o.Password)

	o = NewOptions()
	o.Password = "explicit"
	require.NoError(t, o.Complete())
	assert.Equal(t, "explicit", o.Password)
}

func TestOptions_Validate(t *testing.T) {
	o := NewOptions()
	o.Port = 0
	assert.Empty(t, o.Validate(), "disabled redis is not validated")

	o.Enabled = true
	o.Host = ""
	assert.Len(t, o.Validate(), 2)

	assert.Empty(t, (&Options{}).Validate())
}

func TestOptions_AddFlags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{"--redis.enabled", "--redis.port=6380"}))
	assert.True(t, o.Enabled)
	assert.Equal(t, "127.0.0.1:6380", o.Addr())
}
