// Package pathutil validates node ids and keeps node paths inside the nodes directory.
package pathutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/nammalakes/nodeup/pkg/errclass"
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

type idRule struct {
	bad    func(string) bool
	reason string
}

// Order matters: the first failing rule supplies the message.
var idRules = []idRule{
	{func(s string) bool { return strings.Contains(s, "..") }, "must not contain '..'"},
	{func(s string) bool { return strings.ContainsAny(s, `/\`) }, "must not contain separators"},
	{func(s string) bool { return strings.IndexFunc(s, unicode.IsControl) >= 0 }, "must not contain control characters"},
	{func(s string) bool { return strings.HasPrefix(s, ".") }, "must not start with '.'"},
	{func(s string) bool { return !idPattern.MatchString(s) }, "must match [a-zA-Z0-9._-]+"},
}

// ValidateNodeID checks that id can name a directory under the nodes
// directory. Ids ending in one of reserved are refused so a node's backup or
// lease file never reads as a node of its own.
func ValidateNodeID(id string, reserved ...string) error {
	if id == "" {
		return errclass.ErrNameInvalid.WithMessage("node id must not be empty")
	}
	id = norm.NFC.String(id)
	for _, r := range idRules {
		if r.bad(id) {
			return errclass.ErrNameInvalid.WithMessagef("node id %s: %q", r.reason, id)
		}
	}
	for _, suffix := range reserved {
		if suffix != "" && strings.HasSuffix(id, suffix) {
			return errclass.ErrNameInvalid.WithMessagef("node id must not end with %q: %s", suffix, id)
		}
	}
	return nil
}

// ValidatePathSafety fails when target, after following symlinks, is not
// root or a descendant of it. Targets that do not exist yet are judged by
// their nearest existing ancestor.
func ValidatePathSafety(root, target string) error {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return errclass.ErrPathEscape.WithMessagef("cannot resolve root: %v", err)
	}
	realTarget, err := resolve(target)
	if err != nil {
		return errclass.ErrPathEscape.WithMessagef("cannot resolve target: %v", err)
	}
	rel, err := filepath.Rel(realRoot, realTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errclass.ErrPathEscape.WithMessagef("path escapes root: %s", target)
	}
	return nil
}

// resolve follows symlinks in p. Missing trailing components are kept as
// written and joined onto the deepest ancestor that exists.
func resolve(p string) (string, error) {
	p = filepath.Clean(p)
	var missing []string
	for {
		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return "", err
		}
		missing = append(missing, filepath.Base(p))
		p = parent
	}
}
