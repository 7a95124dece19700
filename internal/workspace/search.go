package workspace

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// Directories never descended into during glob and grep walks.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
}

const maxGrepMatches = 200

// Glob returns root-relative paths matching pattern. Patterns use
// forward slashes; "**" matches any number of path segments.
func (w *Workspace) Glob(pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(path.Clean(strings.TrimSpace(pattern)), "./")
	if pattern == "" || pattern == "." {
		return nil, scopeErr(pattern)
	}
	var out []string
	err := w.walk(".", func(rel string, isDir bool) bool {
		if isDir {
			return true
		}
		if globMatch(pattern, rel) {
			out = append(out, rel)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Grep searches file contents for the regular expression pattern.
// include, when non-empty, is a glob filter on the path. Results are
// capped at maxGrepMatches.
func (w *Workspace) Grep(pattern, include string) ([]Match, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &Error{Kind: EIO, Path: pattern, Err: err}
	}
	include = strings.TrimPrefix(path.Clean(strings.TrimSpace(include)), "./")

	var out []Match
	walkErr := w.walk(".", func(rel string, isDir bool) bool {
		if isDir {
			return true
		}
		if include != "" && include != "." && !globMatch(include, rel) {
			return true
		}
		abs, err := w.Resolve(rel)
		if err != nil {
			return true
		}
		data, err := w.fs.ReadFile(abs)
		if err != nil || isBinary(data) {
			return true
		}
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				out = append(out, Match{Path: rel, Line: i + 1, Text: strings.TrimRight(line, "\r")})
				if len(out) >= maxGrepMatches {
					return false
				}
			}
		}
		return true
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

// WalkTree visits every entry under the root depth-first, skipping
// vendor and VCS directories. fn returns false to stop the walk.
func (w *Workspace) WalkTree(fn func(rel string, isDir bool) bool) error {
	return w.walk(".", fn)
}

// walk visits every entry under rel depth-first. fn returns false to
// stop the walk.
func (w *Workspace) walk(rel string, fn func(rel string, isDir bool) bool) error {
	abs, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	entries, err := w.fs.ReadDir(abs)
	if err != nil {
		return ioErr(rel, err)
	}
	for _, e := range entries {
		childRel := e.Name()
		if rel != "." {
			childRel = rel + "/" + e.Name()
		}
		if e.IsDir() {
			if skipDirs[e.Name()] {
				continue
			}
			if !fn(childRel, true) {
				return nil
			}
			if err := w.walk(childRel, fn); err != nil {
				return err
			}
			continue
		}
		if !fn(childRel, false) {
			return nil
		}
	}
	return nil
}

// globMatch matches a slash-separated glob against a relative path.
// "**" spans segments; "*" and "?" match within one segment.
func globMatch(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	if ok, err := path.Match(pat[0], segs[0]); err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}

// isBinary applies the classic NUL-byte sniff to the first 8 KiB.
func isBinary(data []byte) bool {
	n := len(data)
	if n > 8192 {
		n = 8192
	}
	for _, b := range data[:n] {
		if b == 0 {
			return true
		}
	}
	return false
}
