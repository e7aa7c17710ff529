// Package platform answers the host questions the pipeline needs: which
// process source works here and whether fsnotify can be trusted for a path.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform is the detected host flavor.
type Platform string

const (
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	WSL1    Platform = "wsl1"
	WSL2    Platform = "wsl2"
	Unknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform

	// procRoot and mountsPath are variables so tests can point them at fixtures.
	procRoot   = "/proc"
	mountsPath = "/proc/mounts"
)

// Detect returns the host platform, computed once.
func Detect() Platform {
	detectOnce.Do(func() { detected = detect(runtime.GOOS, readFile("/proc/version")) })
	return detected
}

func readFile(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(b)
}

func detect(goos, procVersion string) Platform {
	switch goos {
	case "darwin":
		return MacOS
	case "linux":
	default:
		return Unknown
	}
	switch {
	case strings.Contains(procVersion, "microsoft-standard"):
		return WSL2
	case strings.Contains(procVersion, "Microsoft"):
		return WSL1
	case os.Getenv("WSL_DISTRO_NAME") != "":
		return WSL2
	}
	return Linux
}

// HasProcFS reports whether per-process directories under /proc are readable.
// WSL1 exposes /proc but without controlling-tty data we can rely on.
func HasProcFS() bool {
	if Detect() == WSL1 {
		return false
	}
	_, err := os.Stat(filepath.Join(procRoot, "self", "stat"))
	return err == nil
}

// UnreliableNotifyFS returns the filesystem type when path sits on a mount
// where inotify events are missing or late (9p, NFS, SMB, sshfs), or "" when
// native change notification should work.
func UnreliableNotifyFS(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	fstype := mountFSType(readFile(mountsPath), abs)
	switch {
	case fstype == "9p", fstype == "nfs", fstype == "nfs4",
		fstype == "cifs", fstype == "smbfs",
		strings.HasPrefix(fstype, "fuse.sshfs"):
		return fstype
	}
	return ""
}

// mountFSType picks the longest mount point containing path.
func mountFSType(mounts, path string) string {
	var best, fstype string
	for _, line := range strings.Split(mounts, "\n") {
		f := strings.Fields(line)
		if len(f) < 3 {
			continue
		}
		mp := f[1]
		if !(path == mp || mp == "/" || strings.HasPrefix(path, strings.TrimSuffix(mp, "/")+"/")) {
			continue
		}
		if len(mp) > len(best) {
			best, fstype = mp, f[2]
		}
	}
	return fstype
}

func (p Platform) String() string {
	switch p {
	case MacOS:
		return "macOS"
	case Linux:
		return "Linux"
	case WSL1:
		return "WSL1"
	case WSL2:
		return "WSL2"
	}
	return "Unknown"
}
