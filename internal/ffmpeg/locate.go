package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Locate finds a binary by name. An explicitly configured path wins, then a
// copy bundled in an assets directory next to our own executable, then PATH.
func Locate(name, configured string) (string, error) {
	if configured != "" && configured != name {
		path, err := exec.LookPath(configured)
		if err != nil {
			return "", fmt.Errorf("configured %s %q: %w", name, configured, err)
		}
		return path, nil
	}

	if bundled := bundledPath(name); bundled != "" {
		return bundled, nil
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

func bundledPath(name string) string {
	exePath, err := os.Executable()
	if err != nil {
		return ""
	}

	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	candidate := filepath.Join(filepath.Dir(exePath), "assets", name)
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate
	}
	return ""
}
