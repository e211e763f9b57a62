package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
)

// ErrMissingCredential is returned when no model API key is available.
var ErrMissingCredential = errors.New("model API key is not configured")

// Remediation tells the operator how to supply the credential.
const Remediation = `The model API key is not configured.

How to set it up:
1. Create the secrets file (default ./secrets.toml, override with SECRETS_PATH).
2. Add the line: GEMINI_API_KEY = "your-api-key"
   or export GEMINI_API_KEY in the server environment.`

// Credential sources reported by Status.
const (
	SourceEnv  = "env"
	SourceFile = "file"
	SourceNone = "none"
)

type secretsFile struct {
	GeminiAPIKey string `toml:"GEMINI_API_KEY"`
	GoogleAPIKey string `toml:"GOOGLE_API_KEY"`
}

// CredentialStatus describes whether generation can run.
type CredentialStatus struct {
	Configured  bool   `json:"configured"`
	Source      string `json:"source"`
	Remediation string `json:"remediation,omitempty"`
}

// CredentialSource resolves the model API key on every request. The
// environment wins over the secrets file; the file is re-read when it
// changes on disk.
type CredentialSource struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	fileKey string
}

// NewCredentialSource loads the secrets file at path. A missing file is
// not an error; the key may come from the environment or appear later.
func NewCredentialSource(path string, logger *slog.Logger) *CredentialSource {
	if logger == nil {
		logger = slog.Default()
	}
	c := &CredentialSource{path: path, logger: logger}
	if err := c.Reload(); err != nil {
		logger.Warn("Failed to read secrets file", "path", path, "error", err)
	}
	return c
}

// Reload re-reads the secrets file. A file that fails to decode keeps
// the previously loaded key.
func (c *CredentialSource) Reload() error {
	key, err := readSecretsFile(c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.fileKey = key
	c.mu.Unlock()
	return nil
}

func readSecretsFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	var secrets secretsFile
	if _, err := toml.DecodeFile(path, &secrets); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("decode secrets file: %w", err)
	}
	if key := strings.TrimSpace(secrets.GeminiAPIKey); key != "" {
		return key, nil
	}
	return strings.TrimSpace(secrets.GoogleAPIKey), nil
}

func envKey() string {
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// APIKey returns the current credential or ErrMissingCredential.
func (c *CredentialSource) APIKey() (string, error) {
	if key := envKey(); key != "" {
		return key, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fileKey != "" {
		return c.fileKey, nil
	}
	return "", ErrMissingCredential
}

// Status reports where the credential comes from.
func (c *CredentialSource) Status() CredentialStatus {
	if envKey() != "" {
		return CredentialStatus{Configured: true, Source: SourceEnv}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fileKey != "" {
		return CredentialStatus{Configured: true, Source: SourceFile}
	}
	return CredentialStatus{Source: SourceNone, Remediation: Remediation}
}

// Watch reloads the secrets file whenever it is written, created, renamed
// or removed, until ctx is done. The parent directory is watched so that
// editors replacing the file are noticed.
func (c *CredentialSource) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create secrets watcher: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(c.path)
	go func() {
		defer func() {
			if err := watcher.Close(); err != nil {
				c.logger.Debug("Failed to close secrets watcher", "error", err)
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if err := c.Reload(); err != nil {
					c.logger.Warn("Failed to reload secrets file", "path", c.path, "error", err)
					continue
				}
				c.logger.Info("Secrets file reloaded", "path", c.path, "configured", c.Status().Configured)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("Secrets watcher error", "error", err)
			}
		}
	}()
	return nil
}
