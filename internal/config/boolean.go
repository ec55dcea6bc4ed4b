package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Bool is a boolean config value with lenient parsing: the legacy key/value
// store stored booleans as any of true/false, on/off, yes/no, 1/0.
type Bool bool

// ParseBool parses the lenient boolean forms. The empty string is false.
func ParseBool(s string) (Bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value %q", s)
}

// Enabled returns the plain bool value.
func (b Bool) Enabled() bool {
	return bool(b)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Bool) UnmarshalText(text []byte) error {
	v, err := ParseBool(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// decodeHook returns the mapstructure hook chain used when unmarshaling the
// config: viper's standard duration/slice hooks plus lenient Bool parsing.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToBoolHookFunc(),
	)
}

// stringToBoolHookFunc converts lenient string booleans to config.Bool.
func stringToBoolHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(Bool(false)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return ParseBool(v)
		case bool:
			return Bool(v), nil
		case int, int64, float64:
			return ParseBool(fmt.Sprintf("%v", v))
		}
		return data, nil
	}
}
