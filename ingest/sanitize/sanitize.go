// Package sanitize maps untrusted relative paths from archives and
// uploads to safe, collision-resistant names confined to a working
// directory.
package sanitize

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxNameLength bounds sanitized names; most filesystems cap names at
// 255 bytes and collision suffixes still need room.
const maxNameLength = 200

// Sanitize reduces an arbitrary (possibly hostile) path to a flat name
// that resolves strictly inside the working root. Separators, traversal
// segments, drive letters, and disallowed characters are removed; on
// collision with used the name gets a deterministic numeric suffix.
//
// Sanitize does not mutate used: given the same used set the result is
// the same on every call. Callers record the returned name in used
// before sanitizing the next path, which keeps colliding inputs on
// distinct outputs.
func Sanitize(rawPath string, used map[string]struct{}) string {
	return unique(flatten(rawPath), used)
}

// Contained reports whether joining name onto root stays inside root.
// Sanitize output always satisfies this; the check exists for callers
// that need to verify paths from other sources.
func Contained(root, name string) bool {
	joined := filepath.Join(root, name)
	rel, err := filepath.Rel(root, joined)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// flatten collapses a raw path to a single safe file name.
func flatten(rawPath string) string {
	// Normalize Windows separators and strip any drive prefix (C:, D:).
	p := strings.ReplaceAll(rawPath, `\`, "/")
	if len(p) >= 2 && p[1] == ':' && isDriveLetter(p[0]) {
		p = p[2:]
	}

	// Keep only real segments: "", ".", and ".." never survive.
	var kept []string
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}

	name := strings.Join(kept, "_")
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)

	// Collapse dot runs so no ".." sequence survives in the output, and
	// never let the name start with a dot (hidden files, "." / "..").
	for strings.Contains(name, "..") {
		name = strings.ReplaceAll(name, "..", ".")
	}
	name = strings.TrimLeft(name, ".")

	if name == "" {
		return "unnamed"
	}
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
		name = strings.TrimRight(name, "._-")
	}
	return name
}

// unique appends _1, _2, ... before the extension until the name is
// unused. The first free counter wins, so the scheme is deterministic.
func unique(name string, used map[string]struct{}) string {
	if _, taken := used[name]; !taken {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, taken := used[candidate]; !taken {
			return candidate
		}
	}
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
