package util

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the inspected environment variables.
const EnvPrefix = "GBR" // GoBRubeck

// InitViper sets up env var handling for a viper. Tables taken from a list
// (see SubViperFromMap) are not bound to the environment.
func InitViper(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.SetTypeByDefaultValue(true)
	v.AutomaticEnv()
}

// typeKey names the implementation of a table. YAML reads an unquoted "type: null"
// as a nil value, which is kept as the name of the null encoder.
const typeKey = "type"

func setTableKey(sub *viper.Viper, key string, val interface{}) {
	if val == nil && key == typeKey {
		val = "null"
	}
	sub.Set(key, val)
}

// SubViperFromMap builds a viper holding the keys of one entry of a list of tables,
// such as an element of "backends". YAML produces map[interface{}]interface{} tables,
// TOML and JSON produce map[string]interface{}.
func SubViperFromMap(raw interface{}) (*viper.Viper, error) {
	sub := viper.New()
	switch table := raw.(type) {
	case map[string]interface{}:
		for k, val := range table {
			setTableKey(sub, k, val)
		}
	case map[interface{}]interface{}:
		for k, val := range table {
			key, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("table key %v is not a string", k)
			}
			setTableKey(sub, key, val)
		}
	default:
		return nil, fmt.Errorf("expected a table, got %T", raw)
	}
	return sub, nil
}

// SubVipers returns one viper per table of the list at key. A missing key yields
// an empty slice.
func SubVipers(v *viper.Viper, key string) ([]*viper.Viper, error) {
	raw := v.Get(key)
	if raw == nil {
		return nil, nil
	}
	var tables []interface{}
	switch list := raw.(type) {
	case []interface{}:
		tables = list
	case []map[string]interface{}:
		for _, t := range list {
			tables = append(tables, t)
		}
	default:
		return nil, fmt.Errorf("%s: expected a list of tables, got %T", key, raw)
	}
	subs := make([]*viper.Viper, 0, len(tables))
	for i, t := range tables {
		sub, err := SubViperFromMap(t)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %v", key, i, err)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
