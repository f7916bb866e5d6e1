package config

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"
)

// FromFile loads config from a specified file overriding defaults specified in
// the def parameter. If file does not exist or is empty defaults are assumed.
func FromFile(path string, def *Config) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, xerrors.Errorf("expanding config path: %w", err)
	}

	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		if def == nil {
			return nil, xerrors.Errorf("couldn't load config: %w", err)
		}
		return def, nil
	case err != nil:
		return nil, err
	}

	defer file.Close() //nolint:errcheck // The file is RO
	return FromReader(file, def)
}

// FromReader loads config from a reader instance.
func FromReader(reader io.Reader, def *Config) (*Config, error) {
	cfg := DefaultConfig()
	if def != nil {
		c := *def
		c.Logging.SubsystemLevels = map[string]string{}
		for k, v := range def.Logging.SubsystemLevels {
			c.Logging.SubsystemLevels[k] = v
		}
		cfg = &c
	}

	md, err := toml.NewDecoder(reader).Decode(cfg)
	if err != nil {
		return nil, err
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, xerrors.Errorf("unknown config keys: %v", undecoded)
	}

	return cfg, nil
}

// ConfigComment encodes t as toml with every value commented out.
func ConfigComment(t interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, _ = buf.WriteString("# Default config:\n")
	e := toml.NewEncoder(buf)
	if err := e.Encode(t); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	b := buf.Bytes()
	b = bytes.ReplaceAll(b, []byte("\n"), []byte("\n#"))
	b = bytes.ReplaceAll(b, []byte("#["), []byte("["))
	return b, nil
}

// ConfigUpdate encodes cfgCur as toml. Keys whose value matches cfgDef are
// commented out, so only the settings that differ from the defaults are live.
func ConfigUpdate(cfgCur, cfgDef interface{}) ([]byte, error) {
	var cur, def bytes.Buffer
	if err := toml.NewEncoder(&cur).Encode(cfgCur); err != nil {
		return nil, xerrors.Errorf("encoding config: %w", err)
	}
	if err := toml.NewEncoder(&def).Encode(cfgDef); err != nil {
		return nil, xerrors.Errorf("encoding default config: %w", err)
	}

	defaults := map[string]struct{}{}
	section := ""
	for _, line := range strings.Split(def.String(), "\n") {
		if t := strings.TrimSpace(line); strings.HasPrefix(t, "[") {
			section = t
			continue
		}
		defaults[section+line] = struct{}{}
	}

	var out bytes.Buffer
	section = ""
	for _, line := range strings.Split(strings.TrimRight(cur.String(), "\n"), "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "[") {
			section = t
		} else if _, isDefault := defaults[section+line]; isDefault && t != "" {
			line = "#" + line
		}
		_, _ = out.WriteString(line + "\n")
	}
	return out.Bytes(), nil
}
