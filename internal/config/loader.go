package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variable names.
	EnvPrefix = "FINSIGHT_"
)

// SearchPaths lists the files Load tries, in order, when no path is given.
func SearchPaths() []string {
	paths := []string{"finsight.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "finsight", "config.yaml"))
	}
	return append(paths, filepath.Join("/etc", "finsight", "config.yaml"))
}

// Load reads configuration from path, then applies FINSIGHT_ environment
// overrides on top.
//
// An explicit path must exist. With an empty path the first existing file
// of SearchPaths is used, and none existing means defaults plus environment.
//
// Files larger than 1MB, and files writable by group or others, are
// rejected.
//
// Environment names map to keys by dropping the prefix, lowercasing and
// turning "__" into a section separator:
//
//	FINSIGHT_SERVER__PORT        -> server.port
//	FINSIGHT_LLM__API_KEY        -> llm.api_key
//	FINSIGHT_MEMORY__QDRANT__HOST -> memory.qdrant.host
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(name), "__", ".")
}

// readConfigFile opens path once and checks the open descriptor, so the
// checked file is the one read.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateFileInfo(info); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(content) > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}
	return content, nil
}

func validateFileInfo(info fs.FileInfo) error {
	if info.IsDir() {
		return errors.New("is a directory")
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("file size %d exceeds %d bytes", info.Size(), maxConfigFileSize)
	}
	// Windows has no meaningful unix permission bits.
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o022 != 0 {
		return fmt.Errorf("insecure permissions %04o: must not be group or world writable", info.Mode().Perm())
	}
	return nil
}
