package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GetByPath reads a dotted path such as "channels.web.port" from the config.
func GetByPath(cfg *Config, path string) (any, error) {
	node, err := toMap(cfg)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(path, ".")
	var cur any = node
	for i, part := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("config path %s: %s is not an object", path, strings.Join(parts[:i], "."))
		}
		cur, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("config path not found: %s", path)
		}
	}
	return cur, nil
}

// SetByPath writes a dotted path into the config. The value string is
// coerced to bool or number when it parses as one, otherwise kept as a
// string. Intermediate objects must already exist.
func SetByPath(cfg *Config, path, value string) error {
	node, err := toMap(cfg)
	if err != nil {
		return err
	}

	parts := strings.Split(path, ".")
	cur := node
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return fmt.Errorf("config path not found: %s", path)
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = coerce(value)

	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("cannot re-marshal config: %w", err)
	}
	updated := Defaults()
	if err := json.Unmarshal(data, updated); err != nil {
		return fmt.Errorf("value does not fit %s: %w", path, err)
	}
	*cfg = *updated
	return nil
}

// Sanitize returns a copy of the config with secrets masked, for display.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Providers = make(map[string]ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		if pc.APIKey != "" {
			pc.APIKey = mask(pc.APIKey)
		}
		out.Providers[name] = pc
	}
	if out.Channels.Telegram.Token != "" {
		out.Channels.Telegram.Token = mask(out.Channels.Telegram.Token)
	}
	return &out
}

func mask(secret string) string {
	if len(secret) <= 4 {
		return "****"
	}
	return secret[:2] + "****" + secret[len(secret)-2:]
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("cannot marshal config: %w", err)
	}
	var node map[string]any
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}
	return node, nil
}

func coerce(value string) any {
	if b, err := strconv.ParseBool(value); err == nil {
		return b
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		return n
	}
	return value
}
