package common

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// FindExecutable looks for a helper binary next to our own executable first,
// then on PATH, then in the usual install directories.
func FindExecutable(name string) (string, bool) {
	if bundled := bundledPath(name); bundled != "" {
		return bundled, true
	}

	names := []string{name}
	if runtime.GOOS == "windows" {
		names = []string{name + ".exe", name}
	}
	for _, n := range names {
		if path, err := exec.LookPath(n); err == nil {
			return path, true
		}
	}

	var commonDirs []string
	switch runtime.GOOS {
	case "darwin":
		commonDirs = []string{"/usr/local/bin", "/opt/homebrew/bin", "/opt/local/bin"}
	case "linux":
		commonDirs = []string{"/usr/bin", "/usr/local/bin", "/opt/conda/bin"}
	case "windows":
		commonDirs = []string{`C:\OSGeo4W\bin`, `C:\ffmpeg\bin`, `C:\Program Files\ffmpeg\bin`}
	}
	for _, dir := range commonDirs {
		for _, n := range names {
			p := filepath.Join(dir, n)
			if _, err := os.Stat(p); err == nil {
				return p, true
			}
		}
	}

	return "", false
}

// bundledPath returns a copy of name shipped alongside the executable, if any.
func bundledPath(name string) string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	file := name
	if runtime.GOOS == "windows" {
		file = name + ".exe"
	}
	candidates := []string{
		filepath.Join(execDir, file),
		filepath.Join(execDir, "bin", file),
		filepath.Join(execDir, "lib", file),
	}
	if runtime.GOOS == "darwin" {
		candidates = append(candidates, filepath.Join(execDir, "..", "Resources", file))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
