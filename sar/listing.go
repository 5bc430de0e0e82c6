package sar

import (
	"cmp"
	"path"
	"slices"
	"strings"
	"time"
)

// ListOptions filters DirectoryListing.
type ListOptions struct {
	// IncludeDirectories adds the directories found under the listed one.
	IncludeDirectories bool

	// Recursive descends into subdirectories.
	Recursive bool

	// Extension keeps only files with this extension, e.g. ".tex0". Matching
	// ignores case. Empty keeps every file.
	Extension string
}

// ModifiedTime returns the recorded source modification time of path. The
// time is zero when the archive did not record one.
func (p *PackageFS) ModifiedTime(fp FilePath) (time.Time, bool) {
	e, ok := p.table.Lookup(fp)
	if !ok {
		return time.Time{}, false
	}
	if e.ModifiedTime == 0 || e.ModifiedTime > 1<<62 {
		return time.Time{}, true
	}
	return time.Unix(int64(e.ModifiedTime), 0), true //nolint:gosec // bounded above
}

// IsDirectory reports whether dir names a directory holding at least one file.
// The root of a game directory is a directory when any file lives in it.
func (p *PackageFS) IsDirectory(dir FilePath) bool {
	prefix := dirPrefix(dir)
	for fp := range p.table.All() {
		if fp.Directory == dir.Directory && strings.HasPrefix(fp.RelativePath(), prefix) {
			return true
		}
	}
	return false
}

// DirectoryListing returns the files under dir, and its subdirectories when
// requested, sorted by path. Directories are returned as FilePaths of
// FileTypeUnknown.
func (p *PackageFS) DirectoryListing(dir FilePath, opts ListOptions) []FilePath {
	prefix := dirPrefix(dir)
	var out []FilePath
	dirs := make(map[string]struct{})
	for fp := range p.table.All() {
		rel := fp.RelativePath()
		if fp.Directory != dir.Directory || !strings.HasPrefix(rel, prefix) {
			continue
		}
		sub := rel[len(prefix):]
		parent := path.Dir(sub)
		if !opts.Recursive && parent != "." {
			if opts.IncludeDirectories {
				first, _, _ := strings.Cut(sub, "/")
				dirs[prefix+first] = struct{}{}
			}
			continue
		}
		if opts.IncludeDirectories && parent != "." {
			for d := parent; d != "."; d = path.Dir(d) {
				dirs[prefix+d] = struct{}{}
			}
		}
		if opts.Extension == "" || strings.EqualFold(path.Ext(rel), opts.Extension) {
			out = append(out, fp)
		}
	}
	for d := range dirs {
		out = append(out, FilePath{Directory: dir.Directory, Name: d})
	}
	slices.SortFunc(out, func(a, b FilePath) int {
		return cmp.Compare(a.String(), b.String())
	})
	return out
}

// dirPrefix returns the relative path of dir with a trailing slash, or "" for
// the root.
func dirPrefix(dir FilePath) string {
	rel := strings.Trim(dir.RelativePath(), "/")
	if rel == "" {
		return ""
	}
	return rel + "/"
}
