package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits on configuration input. A device file is a few kilobytes.
const (
	maxConfigSize = 1 << 20
	maxJSONDepth  = 64
	maxEnvLen     = 4096
	maxPathLen    = 4096
)

type fileFormat int

const (
	formatJSON fileFormat = iota
	formatYAML
)

// checkConfigPath validates a device file path and picks its decoder.
// Relative paths may not climb out of the working directory.
func checkConfigPath(path string) (fileFormat, error) {
	if path == "" {
		return 0, errors.New("empty config path")
	}
	if len(path) > maxPathLen {
		return 0, fmt.Errorf("config path longer than %d bytes", maxPathLen)
	}
	if !filepath.IsAbs(path) {
		clean := filepath.Clean(path)
		if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return 0, fmt.Errorf("config path %s leaves the working directory", path)
		}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("device file %s: only JSON or YAML is supported", path)
	}
}

// readConfigFile reads a device file after checking its path, type and size.
func readConfigFile(path string) ([]byte, fileFormat, error) {
	format, err := checkConfigPath(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, err
	}
	if !info.Mode().IsRegular() {
		return nil, 0, fmt.Errorf("device file %s is not a regular file", path)
	}
	if info.Size() > maxConfigSize {
		return nil, 0, fmt.Errorf("device file %s is %d bytes, limit %d", path, info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(path)
	return data, format, err
}

// writeConfigFile writes data readable by the owner only.
func writeConfigFile(path string, data []byte) error {
	if _, err := checkConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("config is %d bytes, limit %d", len(data), maxConfigSize)
	}
	return os.WriteFile(path, data, 0600)
}

// checkJSONDepth rejects documents nested deeper than maxJSONDepth before
// they are decoded into maps.
func checkJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("json nested too deep: more than %d levels", maxJSONDepth)
			}
		case '}', ']':
			depth--
		}
	}
}

// envOverride replaces one setting from the environment.
type envOverride struct {
	key   string
	apply func(*Config, string) error
}

var globalOverrides = []envOverride{
	{"_NATS_URLS", func(c *Config, v string) error {
		c.NATS.URLs = strings.Split(v, ",")
		c.NATS.Enabled = true
		return nil
	}},
	{"_NATS_TOKEN", func(c *Config, v string) error {
		c.NATS.Token = v
		return nil
	}},
	{"_REDIS_ADDR", func(c *Config, v string) error {
		c.Redis.Addr = v
		c.Redis.Enabled = true
		return nil
	}},
	{"_LOG_LEVEL", func(c *Config, v string) error {
		c.Log.Level = v
		return nil
	}},
}

// deviceEnvKey is the variable suffix for one device setting, e.g.
// _DEVICE_GPS0_PATH for device "gps0".
func deviceEnvKey(name, field string) string {
	return "_DEVICE_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_" + field
}

// deviceOverrides rebinds device transports from the environment, so one
// device file serves hosts with different serial paths or device addresses.
func deviceOverrides(c *Config) []envOverride {
	var out []envOverride
	for i := range c.Devices {
		dev := &c.Devices[i]
		if dev.Transport == nil {
			continue
		}
		out = append(out,
			envOverride{deviceEnvKey(dev.Name, "PATH"), func(_ *Config, v string) error {
				if !filepath.IsAbs(v) {
					return fmt.Errorf("device %s: serial path %q must be absolute", dev.Name, v)
				}
				dev.Transport.Path = v
				return nil
			}},
			envOverride{deviceEnvKey(dev.Name, "ADDRESS"), func(_ *Config, v string) error {
				dev.Transport.Address = v
				return nil
			}},
		)
	}
	return out
}

// checkEnvValue bounds an override before it reaches the config.
func checkEnvValue(key, value string) error {
	if len(value) > maxEnvLen {
		return fmt.Errorf("%s longer than %d bytes", key, maxEnvLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("%s contains a NUL byte", key)
	}
	return nil
}
