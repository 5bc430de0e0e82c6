package sarfs

import "errors"

var (
	// ErrNotInitialized is returned when the archive header and file table
	// have not been loaded yet.
	ErrNotInitialized = errors.New("sarfs: not initialized")

	// ErrNotExist is returned when a path is not in the archive.
	ErrNotExist = errors.New("sarfs: file does not exist")

	// ErrNoFiles is returned when a file list contains no archive paths.
	ErrNoFiles = errors.New("sarfs: no files to fetch")

	// ErrShutdown is returned when a blocking fetch is interrupted by
	// OnNetworkShutdown.
	ErrShutdown = errors.New("sarfs: shut down")

	// ErrInvalidSettings is returned when Settings fail validation.
	ErrInvalidSettings = errors.New("sarfs: invalid settings")
)
