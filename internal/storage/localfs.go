package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// remoteFilesystems are filesystems on which SQLite's file locking cannot
// be trusted.
var remoteFilesystems = []string{"afpfs", "cifs", "nfs", "smb2", "smbfs", "webdav"}

// errUnknownFS means the platform cannot name the filesystem of a path.
var errUnknownFS = errors.New("filesystem type unknown")

// checkLocal rejects a journal path that lives on a network filesystem.
// The file need not exist yet: its closest existing ancestor is checked.
// Platforms that cannot tell are allowed through.
func checkLocal(path string, fsType func(string) (string, error)) error {
	dir, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve journal path %q: %w", path, err)
	}

	name, err := fsType(dir)
	if errors.Is(err, errUnknownFS) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("detect filesystem of %q: %w", dir, err)
	}
	if isRemote(name) {
		return fmt.Errorf("journal path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. "+
			"Set journal.path to a local file or leave it empty to disable the journal", path, name)
	}
	return nil
}

func isRemote(name string) bool {
	return slices.Contains(remoteFilesystems, strings.ToLower(strings.TrimSpace(name)))
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for dir := abs; ; dir = filepath.Dir(dir) {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, fs.ErrNotExist):
			return "", err
		case filepath.Dir(dir) == dir:
			return "", fmt.Errorf("no existing ancestor of %q", abs)
		}
	}
}
