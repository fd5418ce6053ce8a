package shm

import (
	"os"
	"path/filepath"
	"strings"
)

// MaxNameLength is the longest resource name accepted, in bytes.
const MaxNameLength = 32

var nameEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "\x00", "%00")

// ObjectName builds the backing file name for a (name, domain) pair.
func ObjectName(prefix, domain, name string) string {
	return prefix + "." + domain + "." + nameEscaper.Replace(name)
}

// ResolveDir returns dir if it is a usable directory, otherwise a private
// directory under the system temp dir. /dev/shm does not exist everywhere.
func ResolveDir(dir string) string {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return dir
		}
	}
	fallback := filepath.Join(os.TempDir(), "kernelkit-shm")
	if err := os.MkdirAll(fallback, 0o1777); err != nil {
		return os.TempDir()
	}
	return fallback
}
