package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// FileName is the default config file name.
const FileName = "groupclaw.yaml"

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?message} and bare
// $VAR references. Groups: 1 name, 2 modifier, 3 default or message,
// 4 bare name.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads path, expanding environment references, and overlays it on
// Default. .env and .env.local next to the file and in the working
// directory are loaded first without overriding the environment. Relative
// paths are resolved against the file's directory. The result is validated.
func Load(path string) (*Config, error) {
	loadEnvFiles(filepath.Dir(path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables: %w", err)
	}

	cfg, err := Parse([]byte(expanded))
	if err != nil {
		return nil, err
	}
	resolveEnvFallbacks(cfg)
	resolveRelativePaths(cfg, filepath.Dir(path))
	checkFilePermissions(path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault returns Default for runs without a config file. .env files in
// the working directory and the well-known environment variables are
// applied the same way Load applies them.
func LoadDefault() (*Config, error) {
	loadEnvFiles(".")

	cfg := Default()
	resolveEnvFallbacks(cfg)
	resolveRelativePaths(cfg, ".")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML on Default without expanding or validating.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as YAML with owner-only permissions. An API key that
// matches an environment variable is written as a reference to it. The
// previous file is kept as path.bak.
func Save(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.LLM.APIKey = sanitizeSecret(cfg.LLM.APIKey, apiKeyEnvVars...)

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches the standard locations and returns the first
// existing file, or "".
func FindConfigFile() string {
	candidates := []string{
		FileName,
		"groupclaw.yml",
		"configs/" + FileName,
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "groupclaw", FileName))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadEnvFiles loads .env files. godotenv.Load never overrides variables
// that are already set.
func loadEnvFiles(configDir string) {
	files := []string{".env.local", ".env"}
	if configDir != "" && configDir != "." {
		files = append(files, filepath.Join(configDir, ".env.local"), filepath.Join(configDir, ".env"))
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// expandEnvVars replaces environment references in input. ${VAR} and $VAR
// are kept verbatim when VAR is unset; ${VAR:?message} fails.
func expandEnvVars(input string) (string, error) {
	var missing []string
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		name, modifier, value, bare := sub[1], sub[2], sub[3], sub[4]

		if bare != "" {
			if v, ok := os.LookupEnv(bare); ok {
				return v
			}
			return match
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		switch modifier {
		case "-":
			return value
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			missing = append(missing, name+": "+value)
			return ""
		}
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%s", strings.Join(missing, "; "))
	}
	return out, nil
}

// resolveEnvFallbacks fills the endpoint and key from well-known variables
// when the file leaves them empty or unresolved.
func resolveEnvFallbacks(cfg *Config) {
	if cfg.LLM.Endpoint == "" || IsEnvReference(cfg.LLM.Endpoint) {
		if v := os.Getenv("AZURE_OPENAI_ENDPOINT"); v != "" {
			cfg.LLM.Endpoint = v
		} else if IsEnvReference(cfg.LLM.Endpoint) {
			cfg.LLM.Endpoint = ""
		}
	}
	if cfg.LLM.APIKey == "" || IsEnvReference(cfg.LLM.APIKey) {
		cfg.LLM.APIKey = firstEnv(apiKeyEnvVars...)
	}
}

// resolveRelativePaths makes file paths absolute relative to configDir.
func resolveRelativePaths(cfg *Config, configDir string) {
	cfg.Paths.Groups = resolvePath(cfg.Paths.Groups, configDir)
	cfg.Paths.Admin = resolvePath(cfg.Paths.Admin, configDir)
	cfg.Paths.Database = resolvePath(cfg.Paths.Database, configDir)
	cfg.Browser.ProfileDir = resolvePath(cfg.Browser.ProfileDir, configDir)
}

// resolvePath expands ~ and joins relative paths onto base.
func resolvePath(path, base string) string {
	if path == "" || path == ":memory:" {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// IsEnvReference reports whether s is an unexpanded variable reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "$")
}

func sanitizeSecret(value string, envVars ...string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	for _, name := range envVars {
		if os.Getenv(name) == value {
			return "${" + name + "}"
		}
	}
	return value
}

func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// checkFilePermissions warns when the config file is readable by others.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"fix", "chmod 600 "+path,
		)
	}
}
