package kcsync

import (
	"crypto/md5" //nolint:gosec // identifier, not a security boundary
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// EntityID returns the deterministic identifier of the entity built for
// contextName in the file at path.
func EntityID(path, contextName string) string {
	sum := md5.Sum([]byte(path + ":" + contextName)) //nolint:gosec // see import

	return hex.EncodeToString(sum[:])
}

// ProvenanceLabel abbreviates home to "~" when path lies inside it.
func ProvenanceLabel(path, home string) string {
	if home == "" {
		return path
	}

	home = filepath.Clean(home)

	if path == home {
		return "~"
	}

	if rest, ok := strings.CutPrefix(path, home+string(filepath.Separator)); ok {
		return filepath.Join("~", rest)
	}

	return path
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return home
}
