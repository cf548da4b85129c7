package paths

import (
	"os"
)

// GetDataDir returns the directory for config and state files.
// DATA_DIR wins when set; inside a container (/.dockerenv present)
// it is /app/data, otherwise the working directory.
func GetDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return "/app/data"
	}
	return "."
}
