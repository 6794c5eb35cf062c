package smb2core

import (
	"path"
	"strings"

	"github.com/cockroachdb/errors"
)

// errInvalidName is returned for CREATE names that cannot address a file
// inside the share.
var errInvalidName = errors.New("invalid name")

// sharePath converts a CREATE name (backslash separated, relative to the
// share root) into the slash-rooted path used on the backing filesystem.
// Empty names address the share root.
func sharePath(name string) (string, error) {
	if strings.Contains(name, "\x00") {
		return "", errInvalidName
	}

	// Convert Windows separators to forward slashes
	p := strings.ReplaceAll(name, "\\", "/")

	// Path traversal check - the name must not climb above the share root
	for _, elem := range strings.Split(p, "/") {
		if elem == ".." {
			return "", errors.Wrapf(errInvalidName, "%q leaves the share", name)
		}
	}

	return path.Clean("/" + p), nil
}
