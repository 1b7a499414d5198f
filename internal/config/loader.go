package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"wavectl/pkg/logging"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/wavectl"
	projectConfigDir = ".wavectl"
	configFileName   = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "WAVECTL"
)

// LoadOptions select the optional layers.
type LoadOptions struct {
	// ConfigPath is an explicit file layered on top of user and project config.
	ConfigPath string
	// Overrides carries environment variables and bound flags. Nil disables
	// them.
	Overrides *viper.Viper
}

// NewOverrides returns a viper instance reading WAVECTL_* environment
// variables. Callers may bind command flags onto it.
func NewOverrides() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// fileConfig is one layer. Settings stay a node so that only the keys a file
// mentions override earlier layers.
type fileConfig struct {
	Settings   yaml.Node             `yaml:"settings"`
	Components []ComponentDefinition `yaml:"components"`
	Stages     []StageDefinition     `yaml:"stages"`
	Preflight  []PreflightDefinition `yaml:"preflight"`
}

// LoadConfig loads the wavectl configuration by layering default, user,
// project and explicit files, then environment and flag overrides, and
// finally the components directory. The result is validated.
func LoadConfig(opts LoadOptions) (WavectlConfig, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. User and project layers are optional
	for _, layer := range []struct {
		name string
		path func() (string, error)
	}{
		{"user", getUserConfigPath},
		{"project", getProjectConfigPath},
	} {
		path, err := layer.path()
		if err != nil {
			logging.Warn("Config", "Could not determine %s config path: %v", layer.name, err)
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := mergeFile(&config, path); err != nil {
			return WavectlConfig{}, fmt.Errorf("error loading %s config from %s: %w", layer.name, path, err)
		}
		logging.Debug("Config", "Loaded %s config from %s", layer.name, path)
	}

	// 3. An explicit file must exist
	if opts.ConfigPath != "" {
		if err := mergeFile(&config, opts.ConfigPath); err != nil {
			return WavectlConfig{}, fmt.Errorf("error loading config from %s: %w", opts.ConfigPath, err)
		}
	}

	// 4. Overrides may change componentsDir, so they come before it
	if opts.Overrides != nil {
		settings, err := applyOverrides(config.Settings, opts.Overrides)
		if err != nil {
			return WavectlConfig{}, fmt.Errorf("error applying %s_* overrides: %w", EnvPrefix, err)
		}
		config.Settings = settings
	}

	// 5. Component files
	if dir := config.Settings.ComponentsDir; dir != "" {
		if err := mergeComponentsDir(&config, dir); err != nil {
			return WavectlConfig{}, err
		}
	}

	if err := Validate(config); err != nil {
		return WavectlConfig{}, err
	}
	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// mergeFile layers the YAML file at path onto config.
func mergeFile(config *WavectlConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var layer fileConfig
	if err := yaml.Unmarshal([]byte(expandEnv(string(data))), &layer); err != nil {
		return err
	}
	if !layer.Settings.IsZero() {
		if err := layer.Settings.Decode(&config.Settings); err != nil {
			return fmt.Errorf("settings: %w", err)
		}
	}
	config.Components = mergeByName(config.Components, layer.Components, func(c ComponentDefinition) string { return c.Name })
	config.Stages = mergeByName(config.Stages, layer.Stages, func(s StageDefinition) string { return s.Name })
	config.Preflight = mergeByName(config.Preflight, layer.Preflight, func(p PreflightDefinition) string { return p.Name })
	return nil
}

// mergeComponentsDir layers every *.yaml and *.yml file of dir in lexical
// order. Settings in those files are ignored.
func mergeComponentsDir(config *WavectlConfig, dir string) error {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return err
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("components directory %s: %w", dir, err)
		}
	}
	sort.Strings(files)

	for _, f := range files {
		settings := config.Settings
		if err := mergeFile(config, f); err != nil {
			return fmt.Errorf("error loading components from %s: %w", f, err)
		}
		config.Settings = settings
	}
	logging.Debug("Config", "Loaded %d component file(s) from %s", len(files), dir)
	return nil
}

// mergeByName appends overlay to base; an overlay entry replaces the base
// entry of the same name in place.
func mergeByName[T any](base, overlay []T, name func(T) string) []T {
	if len(overlay) == 0 {
		return base
	}
	index := make(map[string]int, len(base))
	for i, item := range base {
		index[name(item)] = i
	}
	for _, item := range overlay {
		if i, ok := index[name(item)]; ok {
			base[i] = item
			continue
		}
		index[name(item)] = len(base)
		base = append(base, item)
	}
	return base
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} references.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(ref string) string {
		m := envPattern.FindStringSubmatch(ref)
		if val, ok := os.LookupEnv(m[1]); ok && val != "" {
			return val
		}
		return m[3]
	})
}

// applyOverrides seeds v with the layered settings as defaults and decodes
// it back, so that any WAVECTL_* variable or bound flag wins.
func applyOverrides(s Settings, v *viper.Viper) (Settings, error) {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return s, err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return s, err
	}
	for key, val := range flatten("", tree) {
		v.SetDefault(key, val)
	}
	var out Settings
	if err := v.Unmarshal(&out); err != nil {
		return s, err
	}
	return out, nil
}

func flatten(prefix string, tree map[string]any) map[string]any {
	out := map[string]any{}
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
