package sar

import (
	"fmt"
	"path"
	"strings"
)

// GameDirectory identifies the root a FilePath is relative to.
type GameDirectory uint8

// Game directories.
const (
	GameDirectoryUnknown GameDirectory = iota
	GameDirectoryConfig
	GameDirectoryContent
	GameDirectoryLog
	GameDirectorySave
	GameDirectoryTools
)

var gameDirectoryNames = [...]string{
	GameDirectoryUnknown: "unknown",
	GameDirectoryConfig:  "config",
	GameDirectoryContent: "content",
	GameDirectoryLog:     "log",
	GameDirectorySave:    "save",
	GameDirectoryTools:   "tools",
}

// String returns the URL scheme used for the directory.
func (d GameDirectory) String() string {
	if int(d) < len(gameDirectoryNames) {
		return gameDirectoryNames[d]
	}
	return fmt.Sprintf("directory(%d)", uint8(d))
}

// ParseGameDirectory parses the String form of a GameDirectory.
func ParseGameDirectory(s string) (GameDirectory, error) {
	for i, name := range gameDirectoryNames {
		if i != int(GameDirectoryUnknown) && strings.EqualFold(name, s) {
			return GameDirectory(i), nil //nolint:gosec // bounded by table size
		}
	}
	return GameDirectoryUnknown, fmt.Errorf("%w: unknown directory %q", ErrInvalidPath, s)
}

// FileType classifies a file by its extension.
//
// Texture mip levels are contiguous so that adjacent mips of the same image
// are exactly one FileType apart.
type FileType uint8

// File types.
const (
	FileTypeUnknown FileType = iota
	FileTypeAudio
	FileTypeCompressionDict
	FileTypeFont
	FileTypeJSON
	FileTypeScript
	FileTypeText
	FileTypeTexture0
	FileTypeTexture1
	FileTypeTexture2
	FileTypeTexture3
	FileTypeTexture4
	FileTypeVideo
)

var fileTypeExtensions = [...]string{
	FileTypeUnknown:         "",
	FileTypeAudio:           ".bank",
	FileTypeCompressionDict: ".dict",
	FileTypeFont:            ".ttf",
	FileTypeJSON:            ".json",
	FileTypeScript:          ".lua",
	FileTypeText:            ".txt",
	FileTypeTexture0:        ".tex0",
	FileTypeTexture1:        ".tex1",
	FileTypeTexture2:        ".tex2",
	FileTypeTexture3:        ".tex3",
	FileTypeTexture4:        ".tex4",
	FileTypeVideo:           ".avi",
}

// Extension returns the file extension for the type, including the dot.
// FileTypeUnknown has no extension.
func (t FileType) Extension() string {
	if int(t) < len(fileTypeExtensions) {
		return fileTypeExtensions[t]
	}
	return ""
}

// IsTexture reports whether t is one of the texture mip types.
func (t FileType) IsTexture() bool {
	return t >= FileTypeTexture0 && t <= FileTypeTexture4
}

func fileTypeForExtension(ext string) FileType {
	for i, e := range fileTypeExtensions {
		if e != "" && e == ext {
			return FileType(i) //nolint:gosec // bounded by table size
		}
	}
	return FileTypeUnknown
}

// FilePath identifies a file inside an archive. It is comparable and can be
// used as a map key.
//
// Name is the lowercase, slash separated path relative to Directory without
// the extension implied by Type. For FileTypeUnknown the extension, if any,
// stays in Name.
type FilePath struct {
	Directory GameDirectory
	Type      FileType
	Name      string
}

// NewFilePath builds a FilePath from a directory and a relative path such as
// "textures/hero.tex0".
func NewFilePath(dir GameDirectory, relative string) (FilePath, error) {
	rel := normalizeRelative(relative)
	if rel == "" {
		return FilePath{}, fmt.Errorf("%w: empty relative path", ErrInvalidPath)
	}
	ext := path.Ext(rel)
	typ := fileTypeForExtension(ext)
	name := rel
	if typ != FileTypeUnknown {
		name = strings.TrimSuffix(rel, ext)
	}
	return FilePath{Directory: dir, Type: typ, Name: name}, nil
}

// ParseFilePath parses the "<directory>://<relative path>" form produced by
// FilePath.String.
func ParseFilePath(s string) (FilePath, error) {
	scheme, rel, ok := strings.Cut(s, "://")
	if !ok {
		return FilePath{}, fmt.Errorf("%w: %q has no directory scheme", ErrInvalidPath, s)
	}
	dir, err := ParseGameDirectory(scheme)
	if err != nil {
		return FilePath{}, err
	}
	return NewFilePath(dir, rel)
}

// RelativePath returns the path relative to the directory, with extension.
func (p FilePath) RelativePath() string {
	return p.Name + p.Type.Extension()
}

// IsValid reports whether p names a file.
func (p FilePath) IsValid() bool {
	return p.Directory != GameDirectoryUnknown && p.Name != ""
}

// WithType returns a copy of p with its type replaced.
func (p FilePath) WithType(t FileType) FilePath {
	p.Type = t
	return p
}

func (p FilePath) String() string {
	return p.Directory.String() + "://" + p.RelativePath()
}

func normalizeRelative(p string) string {
	p = strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
	parts := strings.Split(strings.Trim(p, "/"), "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return strings.Join(result, "/")
}
