package session

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.handychat.
func BaseDir() string {
	if dir := os.Getenv("HANDYCHAT_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".handychat")
}

// Dir returns the profile-specific directory.
func Dir(profile string) string {
	return filepath.Join(BaseDir(), "profiles", profile)
}

// DBPath returns the profile's key-value store path.
func DBPath(profile string) string {
	return filepath.Join(Dir(profile), "handychat.db")
}

// LogDir returns the log directory for a profile.
func LogDir(profile string) string {
	return filepath.Join(Dir(profile), "logs")
}

// LogPath returns the client log file path.
func LogPath(profile string) string {
	return filepath.Join(LogDir(profile), "handychat.log")
}

// CacheDir returns the directory for prepared attachments (thumbnails, recompressed images).
func CacheDir(profile string) string {
	return filepath.Join(Dir(profile), "media")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree with proper permissions.
func EnsureDir(profile string) error {
	for _, d := range []string{Dir(profile), LogDir(profile), CacheDir(profile)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
