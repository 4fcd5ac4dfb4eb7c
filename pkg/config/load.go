package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"sigs.k8s.io/yaml"
)

// ServiceConfig is the persisted agent configuration. The file is YAML
// (or JSON, which is a YAML subset) and unknown keys are rejected.
type ServiceConfig struct {
	RootPath          string `json:"rootPath"`
	StagingPath       string `json:"stagingPath"`
	APIHost           string `json:"apiHost"`
	APIPort           int    `json:"apiPort"`
	PacsBaseURL       string `json:"pacsBaseURL"`
	PacsTokenURL      string `json:"pacsTokenURL"`
	PacsClientID      string `json:"pacsClientId"`
	PacsClientSecret  string `json:"pacsClientSecret"`
	PacsMaxUploadKBps int    `json:"pacsMaxUploadKBps"`
	InstitutionName   string `json:"institutionName"`
	AutoStart         bool   `json:"autoStart"`
}

type Config struct {
}

// Read opens the service configuration file at the given path and loads
// it into a ServiceConfig, applying environment overrides on top.
func (o Config) Read(configPath string) (ServiceConfig, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return ServiceConfig{}, err
	}

	cfg, err := LoadConfig[ServiceConfig](data, "ServiceConfig")
	if err != nil {
		return ServiceConfig{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadConfig loads data into the given configuration type.
func LoadConfig[T any](data []byte, kind string) (c T, err error) {

	if data, err = yaml.YAMLToJSON(data); err != nil {
		return c, fmt.Errorf("yaml to json %s: %v", kind, err)
	}

	var res T
	dec := json.NewDecoder(bytes.NewBuffer(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&res); err != nil {
		return c, fmt.Errorf("decode %s: %v", kind, err)
	}
	return res, nil
}

// applyEnvOverrides - environment variables take precedence over file
// values for the PACS credentials and the upload cap.
func applyEnvOverrides(cfg *ServiceConfig) {
	if v := os.Getenv("PACS_BASE_URL"); v != "" {
		cfg.PacsBaseURL = v
	}
	if v := os.Getenv("PACS_TOKEN_URL"); v != "" {
		cfg.PacsTokenURL = v
	}
	if v := os.Getenv("PACS_CLIENT_ID"); v != "" {
		cfg.PacsClientID = v
	}
	if v := os.Getenv("PACS_CLIENT_SECRET"); v != "" {
		cfg.PacsClientSecret = v
	}
	// the value is a KB/s cap, the variable name notwithstanding
	if v := os.Getenv("PACS_MAX_UPLOAD_BPS"); v != "" {
		if kbps, err := strconv.Atoi(v); err == nil {
			cfg.PacsMaxUploadKBps = kbps
		}
	}
}

// MaxUploadBytesPerSec returns the effective upload cap in bytes/second,
// 0 meaning unthrottled.
func (c ServiceConfig) MaxUploadBytesPerSec() int64 {
	if c.PacsMaxUploadKBps <= 0 {
		return 0
	}
	return int64(c.PacsMaxUploadKBps) * 1024
}
