package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load reads and parses configuration from a file or a directory holding
// config.yaml. Files named in include are merged in order: resource lists
// are appended and non-zero scalars override.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePaths = []string{absPath}

	if len(cfg.Include) > 0 {
		visited := map[string]bool{absPath: true}
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	if err := verifyAllConfigHashes(cfg.SourcePaths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ConfigFiles returns the root config file and every file it includes,
// without parsing resources or verifying hashes.
func ConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}

	root, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	paths := []string{absPath}
	visited := map[string]bool{absPath: true}
	if err := collectIncludes(root.Include, filepath.Dir(absPath), visited, &paths); err != nil {
		return nil, err
	}
	return paths, nil
}

func resolveRoot(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

func resolveInclude(i int, includePath, baseDir string) (string, error) {
	includePath = interpolateEnv(includePath)
	if !filepath.IsAbs(includePath) {
		includePath = filepath.Join(baseDir, includePath)
	}

	absPath, err := filepath.Abs(includePath)
	if err != nil {
		return "", fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
	}

	if _, err := os.Stat(absPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("include[%d]: file not found: %s\n"+
				"Referenced from: %s\n"+
				"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
		}
		return "", fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		absPath, err := resolveInclude(i, includePath, baseDir)
		if err != nil {
			return err
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		visited[absPath] = true

		includedCfg, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}

		mergeConfig(cfg, includedCfg)
		cfg.SourcePaths = append(cfg.SourcePaths, absPath)

		if len(includedCfg.Include) > 0 {
			if err := loadIncludes(cfg, includedCfg.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}

	return nil
}

// collectIncludes walks includes for path discovery only. Files seen twice
// are skipped rather than rejected.
func collectIncludes(includes []string, baseDir string, visited map[string]bool, out *[]string) error {
	for i, includePath := range includes {
		absPath, err := resolveInclude(i, includePath, baseDir)
		if err != nil {
			return err
		}
		if visited[absPath] {
			continue
		}
		visited[absPath] = true
		*out = append(*out, absPath)

		partial, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		if err := collectIncludes(partial.Include, filepath.Dir(absPath), visited, out); err != nil {
			return err
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// mergeConfig merges src into dst, with src taking precedence for non-zero values.
func mergeConfig(dst, src *Config) {
	if src.Service.Name != "" {
		dst.Service.Name = src.Service.Name
	}
	if src.Service.LogLevel != "" {
		dst.Service.LogLevel = src.Service.LogLevel
	}
	if src.Service.LogFormat != "" {
		dst.Service.LogFormat = src.Service.LogFormat
	}
	if src.Service.ShutdownTimeout != 0 {
		dst.Service.ShutdownTimeout = src.Service.ShutdownTimeout
	}
	if src.State.Path != "" {
		dst.State.Path = src.State.Path
	}

	if src.Listener.Listen != "" {
		dst.Listener.Listen = src.Listener.Listen
	}
	if src.Listener.SignatureHeader != "" {
		dst.Listener.SignatureHeader = src.Listener.SignatureHeader
	}
	if src.Listener.MaxBodySize != "" {
		dst.Listener.MaxBodySize = src.Listener.MaxBodySize
	}
	if src.Listener.WebhookSecret != "" {
		dst.Listener.WebhookSecret = src.Listener.WebhookSecret
	}
	if src.Listener.Async {
		dst.Listener.Async = true
	}

	if src.Metrics.Enabled {
		dst.Metrics.Enabled = true
	}
	if src.Metrics.Path != "" {
		dst.Metrics.Path = src.Metrics.Path
	}

	if len(src.Executor.Command) > 0 {
		dst.Executor.Command = src.Executor.Command
	}
	if src.Executor.Timeout != 0 {
		dst.Executor.Timeout = src.Executor.Timeout
	}
	if src.Executor.PollInterval != 0 {
		dst.Executor.PollInterval = src.Executor.PollInterval
	}

	dst.Procedures = append(dst.Procedures, src.Procedures...)
	dst.Stacks = append(dst.Stacks, src.Stacks...)
}

// applyConfigDefaults fills unset fields from Defaults.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}
	if cfg.Service.ShutdownTimeout == 0 {
		cfg.Service.ShutdownTimeout = defaults.Service.ShutdownTimeout
	}
	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}
	if cfg.Listener.Listen == "" {
		cfg.Listener.Listen = defaults.Listener.Listen
	}
	if cfg.Listener.SignatureHeader == "" {
		cfg.Listener.SignatureHeader = defaults.Listener.SignatureHeader
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaults.Metrics.Path
	}

	if cfg.Executor.Timeout == 0 {
		cfg.Executor.Timeout = defaults.Executor.Timeout
	}
	if cfg.Executor.PollInterval == 0 {
		cfg.Executor.PollInterval = defaults.Executor.PollInterval
	}

	for i := range cfg.Procedures {
		if cfg.Procedures[i].Name == "" {
			cfg.Procedures[i].Name = cfg.Procedures[i].ID
		}
	}
	for i := range cfg.Stacks {
		if cfg.Stacks[i].Name == "" {
			cfg.Stacks[i].Name = cfg.Stacks[i].ID
		}
		if cfg.Stacks[i].Branch == "" {
			cfg.Stacks[i].Branch = "main"
		}
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.ShutdownTimeout < 0 {
		return fmt.Errorf("service.shutdown_timeout must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if _, _, err := net.SplitHostPort(cfg.Listener.Listen); err != nil {
		return fmt.Errorf("listener.listen: %w", err)
	}
	if err := checkUnresolved("listener.webhook_secret", cfg.Listener.WebhookSecret); err != nil {
		return err
	}
	if cfg.Listener.MaxBodySize != "" {
		if _, err := ParseByteSize(cfg.Listener.MaxBodySize); err != nil {
			return fmt.Errorf("listener.max_body_size: %w", err)
		}
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Path == "" || cfg.Metrics.Path[0] != '/') {
		return fmt.Errorf("metrics.path must start with / (got %q)", cfg.Metrics.Path)
	}

	if len(cfg.Executor.Command) > 0 && cfg.Executor.Command[0] == "" {
		return fmt.Errorf("executor.command[0] must name a program")
	}
	if cfg.Executor.Timeout < 0 || cfg.Executor.PollInterval < 0 {
		return fmt.Errorf("executor.timeout and executor.poll_interval must not be negative")
	}

	seen := make(map[string]bool)
	for i, p := range cfg.Procedures {
		if p.ID == "" {
			return fmt.Errorf("procedures[%d].id is required", i)
		}
		if seen[p.ID] {
			return fmt.Errorf("procedure %q is defined more than once", p.ID)
		}
		seen[p.ID] = true
		if err := checkUnresolved(fmt.Sprintf("procedure %q: webhook_secret", p.ID), p.WebhookSecret); err != nil {
			return err
		}
	}

	seen = make(map[string]bool)
	for i, s := range cfg.Stacks {
		if s.ID == "" {
			return fmt.Errorf("stacks[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("stack %q is defined more than once", s.ID)
		}
		seen[s.ID] = true
		if err := checkUnresolved(fmt.Sprintf("stack %q: webhook_secret", s.ID), s.WebhookSecret); err != nil {
			return err
		}
	}

	return nil
}

// checkUnresolved rejects values still holding a ${VAR} placeholder.
func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}
