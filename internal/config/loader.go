package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config file formats.
const (
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// DefaultFileName is the config file looked up in the working directory and
// in the user config directory.
const DefaultFileName = "talazo.yaml"

// ErrConfigNotFound is returned by Find when no config file exists.
var ErrConfigNotFound = errors.New("config: no config file found")

// Load reads and parses a configuration file from the given path. The format
// is chosen by extension: .toml is TOML, anything else YAML.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}

	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close config file: %w", cerr)
		}
	}()

	return LoadFromReaderWithFormat(file, detectFormat(path))
}

// LoadFromReader reads and parses YAML configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	return LoadFromReaderWithFormat(r, FormatYAML)
}

// LoadFromReaderWithFormat reads and parses configuration in the given format.
// Environment variables in the format ${VAR_NAME} are expanded before parsing.
func LoadFromReaderWithFormat(r io.Reader, format string) (*Config, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := []byte(os.ExpandEnv(string(content)))

	var cfg Config
	switch format {
	case FormatTOML:
		if err := toml.Unmarshal(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unknown format %q", format)
	}

	return &cfg, nil
}

func detectFormat(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// SearchPaths lists the locations Find checks after an explicit path.
func SearchPaths() []string {
	paths := []string{DefaultFileName}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "talazo", DefaultFileName))
	}
	return paths
}

// Find returns explicit when set, otherwise the first existing file from
// SearchPaths.
func Find(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, path := range SearchPaths() {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w (looked in %s)", ErrConfigNotFound, strings.Join(SearchPaths(), ", "))
}

// Example is the annotated config written by `talazo config init`.
const Example = `# talazo configuration
endpoint:
  url: "https://api.openai.com/v1/chat/completions"
  # credential: "${OPENAI_API_KEY}"
  credential_env: "OPENAI_API_KEY"
  timeout_ms: 120000

limits:
  max_requests_per_minute: 3000
  max_cost_units_per_minute: 250000

cost:
  scheme: "cl100k_base"   # cl100k_base, o200k_base, chars, bytes, requests

retry:
  max_attempts: 5
  placement: "front"      # front or back
  rate_limit_cooldown_ms: 15000

dispatch:
  max_in_flight: 32
  preflight_costs: true

input:
  metadata_field: "metadata"

output:
  format: ""              # jsonl or sqlite, empty picks by extension

logging:
  level: "info"
  format: "console"
  pretty: true

health:
  circuit_breaker:
    enabled: false
    failure_threshold: 5
    open_duration_ms: 30000
    half_open_probes: 3
  probe:
    enabled: true
    timeout_ms: 5000

metrics:
  listen: ""              # e.g. "127.0.0.1:9464"
`
