package utils

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/charmbracelet/log"
)

// PathResolver locates the data and config directories for the pcserve binary.
type PathResolver struct {
	executableDir string
	homeDir       string
	configDir     string
}

// NewPathResolver determines the executable location and platform config dir.
func NewPathResolver() (*PathResolver, error) {
	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return nil, err
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		log.Warnf("Could not determine home directory: %v", err)
		homeDir = os.TempDir()
	}

	pr := &PathResolver{
		executableDir: filepath.Dir(execPath),
		homeDir:       homeDir,
		configDir:     platformConfigDir(homeDir),
	}
	log.Debugf("PathResolver initialized: execDir=%s, configDir=%s", pr.executableDir, pr.configDir)
	return pr, nil
}

func platformConfigDir(homeDir string) string {
	switch runtime.GOOS {
	case "linux":
		if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
			return filepath.Join(configHome, "pcserve")
		}
		return filepath.Join(homeDir, ".config", "pcserve")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "pcserve")
		}
		return filepath.Join(homeDir, "AppData", "Roaming", "pcserve")
	default:
		return filepath.Join(homeDir, ".config", "pcserve")
	}
}

// GetDataDir resolves the directory holding the reference XML files.
// Candidates in order: the path itself when absolute, otherwise relative to
// the working directory then to the executable, and finally <configDir>/data.
// The first existing directory wins; otherwise the path is returned as given.
func (pr *PathResolver) GetDataDir(requested string) string {
	var candidates []string
	if filepath.IsAbs(requested) {
		candidates = append(candidates, requested)
	} else {
		if cwd, err := os.Getwd(); err == nil {
			candidates = append(candidates, filepath.Join(cwd, requested))
		}
		candidates = append(candidates, filepath.Join(pr.executableDir, requested))
	}
	candidates = append(candidates, filepath.Join(pr.configDir, "data"))

	for _, c := range candidates {
		if IsDir(c) {
			log.Debugf("Found data directory: %s", c)
			return c
		}
		log.Debugf("Data directory candidate not found: %s", c)
	}
	return requested
}

// GetConfigPath returns a writable location for filename, falling back to
// the temp dir when the config dir cannot be written.
func (pr *PathResolver) GetConfigPath(filename string) string {
	for _, dir := range []string{pr.configDir, filepath.Join(os.TempDir(), "pcserve")} {
		if IsWritableDir(dir) {
			return filepath.Join(dir, filename)
		}
		log.Warnf("Config directory %s is not usable, trying fallback", dir)
	}
	return filepath.Join(os.TempDir(), filename)
}
