package config

import (
	"fmt"
	"slices"
	"strconv"
)

// KeyInfo describes a config key for display purposes.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
}

// ShowAll returns all config key/value pairs from the current config.
// Secrets are listed with their value masked.
func ShowAll(cfg Config) []KeyInfo {
	out := make([]KeyInfo, 0, len(specs))
	for _, s := range specs {
		v := fmt.Sprint(s.extract(cfg))
		if s.secret {
			v = mask(v)
		}
		out = append(out, KeyInfo{Key: s.key, EnvVar: s.env, Value: v})
	}
	return out
}

func mask(v string) string {
	switch {
	case v == "":
		return "(unset)"
	case len(v) <= 8:
		return "****"
	default:
		return v[:4] + "****"
	}
}

// SetKey writes a config key to the config file. Secret keys go to the
// secrets file instead.
func SetKey(key, value string) error {
	return setKeyWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()}, key, value)
}

func setKeyWith(b ConfigBackend, secrets fileSecrets, key, value string) error {
	idx := slices.IndexFunc(specs, func(s keySpec) bool { return s.key == key })
	if idx < 0 {
		return fmt.Errorf("unknown config key %q (see 'falaimagem config show')", key)
	}
	s := specs[idx]
	if s.secret {
		return secrets.set(key, value)
	}
	if s.typ == kInt {
		i, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s expects an integer: %w", key, err)
		}
		return b.Set(key, i)
	}
	return b.Set(key, value)
}

// ValidKeys returns the config key names in table order.
func ValidKeys() []string {
	keys := make([]string, len(specs))
	for i, s := range specs {
		keys[i] = s.key
	}
	return keys
}
