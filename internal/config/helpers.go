package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// validateEnvFilePath validates that the env file path is safe and prevents directory traversal
func validateEnvFilePath(filename string) error {
	if filename == "" {
		return nil
	}

	cleanPath := filepath.Clean(filename)

	if filepath.IsAbs(cleanPath) {
		tmpDir := os.TempDir()
		if strings.HasPrefix(cleanPath, filepath.Clean(tmpDir)) {
			// Allow files in temp directory (tests).
		} else {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("cannot determine current directory: %w", err)
			}

			relPath, err := filepath.Rel(cwd, cleanPath)
			if err != nil {
				return fmt.Errorf("invalid file path: %w", err)
			}

			if strings.HasPrefix(relPath, "..") {
				return fmt.Errorf("file path cannot access parent directories: %s", filename)
			}
		}
	} else if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("file path cannot contain '..': %s", filename)
	}

	if ext := filepath.Ext(cleanPath); ext != "" && ext != ".env" && !strings.HasPrefix(filepath.Base(cleanPath), ".env") {
		return fmt.Errorf("env file must have .env extension or no extension: %s", filename)
	}

	return nil
}

// loadEnvFile loads environment variables from a .env file if it exists.
// Missing files are not an error — .env is optional in every deployment mode.
func loadEnvFile(filename string) error {
	if err := validateEnvFilePath(filename); err != nil {
		return fmt.Errorf("invalid env file path: %w", err)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if (strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"")) ||
			(strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'")) {
			value = value[1 : len(value)-1]
		}

		if existing := os.Getenv(key); existing == "" {
			os.Setenv(key, value)
			slog.Debug("loaded env var from .env file", "key", key)
		}
	}

	return scanner.Err()
}

// LoadEnvFile is a public wrapper around loadEnvFile for cmd/ entry points.
func LoadEnvFile(filename string) error {
	return loadEnvFile(filename)
}
