// conf/utils.go various util functions for configuration package
package conf

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tphakala/birdnet-edge/internal/errors"
	"github.com/tphakala/birdnet-edge/internal/logger"
)

const osWindows = "windows"

// GetDefaultConfigPaths returns a list of default configuration paths for the current operating system.
// If a config.yaml file is found in any of the paths, only that path is returned.
func GetDefaultConfigPaths() ([]string, error) {
	var configPaths []string

	exePath, err := os.Executable()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-executable-path").
			Build()
	}
	exeDir := filepath.Dir(exePath)

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		configPaths = []string{
			exeDir,
			filepath.Join(homeDir, "AppData", "Roaming", "birdnet-edge"),
		}
	default:
		configPaths = []string{
			filepath.Join(homeDir, ".config", "birdnet-edge"),
			"/etc/birdnet-edge",
		}
	}

	for _, path := range configPaths {
		configFile := filepath.Join(path, "config.yaml")
		if _, err := os.Stat(configFile); err == nil {
			return []string{path}, nil
		}
	}

	return configPaths, nil
}

// RunningInContainer checks if the program is running inside a container.
func RunningInContainer() bool {
	// Docker
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	// Podman
	if _, err := os.Stat("/run/.containerenv"); err == nil {
		return true
	}
	if containerEnv, exists := os.LookupEnv("container"); exists && containerEnv != "" {
		return true
	}

	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return false
	}
	defer func() {
		if err := file.Close(); err != nil {
			GetLogger().Warn("Failed to close /proc/self/cgroup", logger.Error(err))
		}
	}()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "docker") || strings.Contains(line, "podman") {
			return true
		}
	}

	return false
}

// GetBoardModel reads the SBC board model from the device tree.
func GetBoardModel() string {
	data, err := os.ReadFile("/proc/device-tree/model")
	if err != nil {
		return ""
	}
	return strings.Trim(strings.TrimSpace(string(data)), "\x00")
}

// moveFile moves a file from src to dst, working across devices
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	srcAbs, err := filepath.Abs(src)
	if err != nil {
		return fmt.Errorf("error resolving source path: %w", err)
	}
	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("error resolving destination path: %w", err)
	}

	srcFile, err := os.Open(srcAbs) //nolint:gosec // G304: srcAbs is filepath.Abs resolved path
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer func() {
		if err := srcFile.Close(); err != nil {
			GetLogger().Warn("Failed to close source file", logger.Error(err))
		}
	}()

	dstFile, err := os.Create(dstAbs) //nolint:gosec // G304: dstAbs is filepath.Abs resolved path
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}
	defer func() {
		if err := dstFile.Close(); err != nil {
			GetLogger().Warn("Failed to close destination file", logger.Error(err))
		}
	}()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("error copying file contents: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return fmt.Errorf("error removing source file after copy: %w", err)
	}

	return nil
}
