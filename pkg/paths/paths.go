package paths

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the data directory path
// If running in Docker (/.dockerenv exists), returns /app/data
// Otherwise returns current directory (.)
func GetDataDir() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "/app/data"
	}
	return "."
}

// GetAssetsDir returns the directory holding static playback assets
// (the failure video). In Docker this is /app/assets, otherwise ./assets.
func GetAssetsDir() string {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "/app/assets"
	}
	return "assets"
}

// FailureVideoPath is the default location of the fallback video.
func FailureVideoPath() string {
	return filepath.Join(GetAssetsDir(), "failure_video.mp4")
}
