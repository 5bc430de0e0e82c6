package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/sarfs/sar"
)

func runPack(args []string, stdout io.Writer) error {
	flags := newFlagSet("pack", "<dir> <out.sar>")
	compression := flags.StringP("compression", "c", sar.CompressionZstd.String(), "payload compression: none, zstd or lz4")
	directory := flags.StringP("directory", "d", sar.GameDirectoryContent.String(), "game directory the files belong to")
	obfuscate := flags.Bool("obfuscate", false, "obfuscate payloads")
	postCrc := flags.Bool("post-crc", true, "store a CRC32 of each stored payload")
	compressTable := flags.Bool("compress-table", false, "zstd-compress the file table")
	dictPath := flags.String("dict", "", "zstd dictionary to store and compress against")
	changelist := flags.Uint32("changelist", 0, "build changelist recorded in the header")
	versionMajor := flags.Uint16("version-major", 0, "build major version recorded in the header")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 2 {
		flags.Usage()
		return errors.New("pack needs a source directory and an output file")
	}
	src, out := flags.Arg(0), flags.Arg(1)

	c, err := sar.ParseCompression(*compression)
	if err != nil {
		return err
	}
	dir, err := sar.ParseGameDirectory(*directory)
	if err != nil {
		return err
	}
	opts := []sar.BuildOption{
		sar.WithCompression(c),
		sar.WithGameDirectory(dir),
		sar.WithObfuscation(*obfuscate),
		sar.WithPostCrc32(*postCrc),
		sar.WithCompressedFileTable(*compressTable),
		sar.WithBuildChangelist(*changelist, *versionMajor),
	}
	if *dictPath != "" {
		dict, err := os.ReadFile(*dictPath)
		if err != nil {
			return err
		}
		opts = append(opts, sar.WithCompressionDict(dict))
	}

	files, err := collectFiles(src, dir)
	if err != nil {
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}
	h, err := sar.Build(f, files, opts...)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(out)
		return err
	}
	fmt.Fprintf(stdout, "wrote %s: %d files, %d bytes\n", out, h.TotalEntries, h.TotalSize)
	return nil
}

// collectFiles reads every regular file under root.
func collectFiles(root string, dir sar.GameDirectory) ([]sar.BuildFile, error) {
	var files []sar.BuildFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		fp, err := sar.NewFilePath(dir, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, sar.BuildFile{Path: fp, Data: data, ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect %s: %w", root, err)
	}
	return files, nil
}
