package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// findCLI locates the claude executable. A bare name is resolved on PATH; a
// path is checked directly. Returns the resolved path.
func findCLI(name string) (string, error) {
	if !strings.ContainsRune(name, os.PathSeparator) {
		return exec.LookPath(name)
	}
	info, err := os.Stat(name)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", name)
	}
	return name, nil
}

// checkAuth verifies the upstream CLI's credential state. Credentials live in
// the OS keychain and are only exercised at call time, so the probe always
// succeeds; a real auth failure surfaces on the first request instead.
func checkAuth() error {
	return nil
}
