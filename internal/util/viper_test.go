package util

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubVipersYAML(t *testing.T) {
	t.Parallel()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
backends:
  - type: carbon
    address: 10.0.0.1:2003
    frequency: 5s
  - type: "null"
    address: quoted
  - type: null
`)))
	subs, err := SubVipers(v, "backends")
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "carbon", subs[0].GetString("type"))
	assert.Equal(t, "10.0.0.1:2003", subs[0].GetString("address"))
	assert.Equal(t, 5*time.Second, subs[0].GetDuration("frequency"))
	assert.Equal(t, "null", subs[1].GetString("type"))
	assert.Equal(t, "null", subs[2].GetString("type"), "unquoted YAML null names the null encoder")
}

func TestSubViperFromMapNilValues(t *testing.T) {
	t.Parallel()
	sub, err := SubViperFromMap(map[string]interface{}{"type": nil, "address": nil})
	require.NoError(t, err)
	assert.Equal(t, "null", sub.GetString("type"))
	assert.Empty(t, sub.GetString("address"))
}

func TestSubVipersTOML(t *testing.T) {
	t.Parallel()
	v := viper.New()
	v.SetConfigType("toml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
[[samplers]]
type = "statsd"
address = ":9000"
workers = 2
`)))
	subs, err := SubVipers(v, "samplers")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, ":9000", subs[0].GetString("address"))
	assert.Equal(t, 2, subs[0].GetInt("workers"))
}

func TestSubVipersMissing(t *testing.T) {
	t.Parallel()
	subs, err := SubVipers(viper.New(), "backends")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestSubVipersInvalid(t *testing.T) {
	t.Parallel()
	v := viper.New()
	v.Set("backends", "carbon")
	_, err := SubVipers(v, "backends")
	assert.Error(t, err)

	v.Set("backends", []interface{}{"carbon"})
	_, err = SubVipers(v, "backends")
	assert.EqualError(t, err, "backends[0]: expected a table, got string")

	_, err = SubViperFromMap(map[interface{}]interface{}{1: "x"})
	assert.Error(t, err)
}
