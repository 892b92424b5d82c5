package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
	"golang.org/x/term"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "groupclaw"

	// keyringAPIKey is the entry holding the LLM API key.
	keyringAPIKey = "llm_api_key"
)

// apiKeyEnvVars are consulted in order when neither the keyring nor the
// file provides a key.
var apiKeyEnvVars = []string{"GROUPCLAW_LLM_API_KEY", "AZURE_API_KEY", "OPENAI_API_KEY"}

// StoreAPIKey saves the LLM API key in the OS keyring.
func StoreAPIKey(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("API key is empty")
	}
	if err := keyring.Set(keyringService, keyringAPIKey, value); err != nil {
		return fmt.Errorf("storing in keyring: %w", err)
	}
	return nil
}

// GetAPIKey returns the key stored in the OS keyring, or "".
func GetAPIKey() string {
	val, err := keyring.Get(keyringService, keyringAPIKey)
	if err != nil {
		return ""
	}
	return val
}

// DeleteAPIKey removes the key from the OS keyring. A missing entry is
// not an error.
func DeleteAPIKey() error {
	err := keyring.Delete(keyringService, keyringAPIKey)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("deleting from keyring: %w", err)
	}
	return nil
}

// ResolveAPIKey sets cfg.LLM.APIKey using, in order: the OS keyring, the
// value already in the config (file or expanded env), and the well-known
// environment variables. It reports where the key came from.
func ResolveAPIKey(cfg *Config, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	if val := GetAPIKey(); val != "" {
		cfg.LLM.APIKey = val
		logger.Debug("API key loaded from OS keyring")
		return "keyring"
	}
	if cfg.LLM.APIKey != "" && !IsEnvReference(cfg.LLM.APIKey) {
		logger.Debug("API key loaded from config")
		return "config"
	}
	if val := firstEnv(apiKeyEnvVars...); val != "" {
		cfg.LLM.APIKey = val
		logger.Debug("API key loaded from environment")
		return "env"
	}

	cfg.LLM.APIKey = ""
	logger.Warn("no LLM API key found; set one with: groupclaw config set-key")
	return ""
}

// ReadSecret prompts on w and reads one line from in without echo when in
// is a terminal.
func ReadSecret(in *os.File, w io.Writer, prompt string) (string, error) {
	fmt.Fprint(w, prompt)

	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(w)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(line), nil
}
