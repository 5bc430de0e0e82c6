package sar

import "bytes"

// File is an open, fully decoded archive file. It implements io.Reader,
// io.ReaderAt, io.Seeker and io.Closer.
type File struct {
	*bytes.Reader
	path FilePath
}

func newFile(path FilePath, data []byte) *File {
	return &File{Reader: bytes.NewReader(data), path: path}
}

// Path returns the archive path the file was opened from.
func (f *File) Path() FilePath {
	return f.path
}

// Close is a no-op; the contents are held in memory.
func (f *File) Close() error {
	return nil
}
