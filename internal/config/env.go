package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides config fields from the process environment.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv("ADA_TMP_DIR"); v != "" {
		cfg.Sandbox.Root = v
	}
	if v := getenv("LLM_PROVIDER"); v != "" {
		cfg.Provider.Name = strings.ToLower(v)
	}
	if v := getenv("ADA_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := getenv("ADA_MOCK_LLM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Provider.Mock = b
		}
	}
	if v := getenv("ADA_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := getenv("ADA_JOBS_DB"); v != "" {
		cfg.Jobs.DB = v
	}
}

// ReadEnvFile parses a .env file. Supports both "KEY=VALUE" and
// "export KEY=VALUE"; blank lines and # comments are skipped and matching
// surrounding quotes are removed.
func ReadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vars := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		vars[key] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return vars, nil
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// LoadDotEnv sets variables from path that are not already present in the
// environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	vars, err := ReadEnvFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for k, v := range vars {
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}
