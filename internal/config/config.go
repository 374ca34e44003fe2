package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models khidma.yml.
type Config struct {
	Model struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Name    string `yaml:"name"`
	} `yaml:"model"`
	Speech struct {
		RecognizerURL string `yaml:"recognizer_url"`
		Language      string `yaml:"language"`
	} `yaml:"speech"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create one with khidma config init", path)
	}
	return cfg, err
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return cfg, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Model.BaseURL == "" {
		return fmt.Errorf("config.model.base_url is required")
	}
	if !strings.HasPrefix(c.Model.BaseURL, "http://") && !strings.HasPrefix(c.Model.BaseURL, "https://") {
		return fmt.Errorf("config.model.base_url must be an http(s) URL")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("config.model.name is required")
	}
	if c.Speech.RecognizerURL != "" &&
		!strings.HasPrefix(c.Speech.RecognizerURL, "ws://") && !strings.HasPrefix(c.Speech.RecognizerURL, "wss://") {
		return fmt.Errorf("config.speech.recognizer_url must be a ws(s) URL")
	}
	if c.Speech.Language == "" {
		return fmt.Errorf("config.speech.language is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "khidma.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(jwtSecret string) string {
	return fmt.Sprintf(defaultTemplate, jwtSecret)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `model:
  base_url: https://api.openai.com/v1
  api_key: ""
  name: gpt-4o-mini

speech:
  recognizer_url: ""
  language: ar-SA

auth:
  jwt_secret: %s
`
