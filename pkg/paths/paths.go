// Package paths resolves filesystem locations that depend on the
// environment the addon is running in rather than on user configuration.
package paths

import "os"

// dockerMarker is present in every Docker container's root filesystem;
// its existence is the cheapest reliable signal that DATA_DIR should
// default to the container's mounted volume rather than the cwd.
const dockerMarker = "/.dockerenv"

// dockerDataDir is the conventional mount point the shipped Dockerfile
// declares as a volume.
const dockerDataDir = "/app/data"

// GetDataDir resolves the directory persistence/state.json, logs and the
// filter/sorting overrides live under. DATA_DIR, when set, always wins;
// otherwise a running container defaults to its declared volume mount and
// a bare-metal run defaults to the current directory.
func GetDataDir() string {
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		return dir
	}
	if runningInDocker() {
		return dockerDataDir
	}
	return "."
}

func runningInDocker() bool {
	_, err := os.Stat(dockerMarker)
	return err == nil
}
