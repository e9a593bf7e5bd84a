package launcher

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
)

const pidfileName = ".cc-proxy.pid"

// pidInfo is the record a running start leaves behind so that stop and status
// can find it from a separate process.
type pidInfo struct {
	PID  int    `json:"pid"`
	Addr string `json:"addr"`
}

func pidfilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, pidfileName)
}

func writePidfile(path string, info pidInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func readPidfile(path string) (pidInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pidInfo{}, err
	}
	var info pidInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return pidInfo{}, err
	}
	return info, nil
}

func removePidfile(path string) {
	_ = os.Remove(path)
}

// processAlive reports whether pid exists, via the null signal.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
