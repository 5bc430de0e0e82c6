package sarfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Default sizing settings.
const (
	DefaultMaxRedownloadSizeThreshold   = 8 << 10
	DefaultLowerBoundMaxSizePerDownload = 32 << 10
	DefaultUpperBoundMaxSizePerDownload = 256 << 10
	DefaultTargetPerDownloadTime        = 500 * time.Millisecond
)

// Settings configures a FileSystem.
type Settings struct {
	// InitialURL is the URL of the remote archive. Redirects are cached and
	// dropped again after any non-network failure.
	InitialURL string `yaml:"initial_url"`

	// PackagePath is the absolute path of the local archive file.
	PackagePath string `yaml:"package_path"`

	// MaxRedownloadSizeThreshold is the largest gap of unrequested bytes
	// that may be downloaded to join two requested files into one request.
	MaxRedownloadSizeThreshold uint64 `yaml:"max_redownload_size_threshold"`

	// LowerBoundMaxSizePerDownload and UpperBoundMaxSizePerDownload clamp
	// the adaptive request size. The size starts at the upper bound.
	LowerBoundMaxSizePerDownload uint64 `yaml:"lower_bound_max_size_per_download"`
	UpperBoundMaxSizePerDownload uint64 `yaml:"upper_bound_max_size_per_download"`

	// TargetPerDownloadTime is the latency the adaptive request size aims for.
	TargetPerDownloadTime time.Duration `yaml:"target_per_download_time"`

	// NormalPriority runs the worker without yielding between requests.
	// When false the worker yields after each request.
	NormalPriority bool `yaml:"normal_priority"`

	// PopulatePackages lists local archives that files may be copied from
	// instead of downloaded. They are never modified.
	PopulatePackages []string `yaml:"populate_packages"`
}

// DefaultSettings returns settings with every sizing default applied.
func DefaultSettings() Settings {
	return Settings{
		MaxRedownloadSizeThreshold:   DefaultMaxRedownloadSizeThreshold,
		LowerBoundMaxSizePerDownload: DefaultLowerBoundMaxSizePerDownload,
		UpperBoundMaxSizePerDownload: DefaultUpperBoundMaxSizePerDownload,
		TargetPerDownloadTime:        DefaultTargetPerDownloadTime,
	}
}

// DecodeSettings decodes YAML over DefaultSettings without validating the
// result, so callers can fill in fields before calling Validate. Unknown keys
// are rejected.
func DecodeSettings(data []byte) (Settings, error) {
	s := DefaultSettings()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return s, nil
}

// ParseSettings decodes and validates YAML settings.
func ParseSettings(data []byte) (Settings, error) {
	s, err := DecodeSettings(data)
	if err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// LoadSettings reads and parses a YAML settings file.
func LoadSettings(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, err
	}
	return ParseSettings(data)
}

// Validate reports the first invalid field.
func (s Settings) Validate() error {
	u, err := url.Parse(s.InitialURL)
	switch {
	case s.InitialURL == "":
		return fmt.Errorf("%w: initial_url is required", ErrInvalidSettings)
	case err != nil || u.Scheme == "" || u.Host == "":
		return fmt.Errorf("%w: initial_url %q is not an absolute URL", ErrInvalidSettings, s.InitialURL)
	case !filepath.IsAbs(s.PackagePath):
		return fmt.Errorf("%w: package_path %q is not absolute", ErrInvalidSettings, s.PackagePath)
	case s.LowerBoundMaxSizePerDownload == 0:
		return fmt.Errorf("%w: lower_bound_max_size_per_download must be positive", ErrInvalidSettings)
	case s.UpperBoundMaxSizePerDownload < s.LowerBoundMaxSizePerDownload:
		return fmt.Errorf("%w: upper_bound_max_size_per_download %d is below lower bound %d",
			ErrInvalidSettings, s.UpperBoundMaxSizePerDownload, s.LowerBoundMaxSizePerDownload)
	case s.TargetPerDownloadTime <= 0:
		return fmt.Errorf("%w: target_per_download_time must be positive", ErrInvalidSettings)
	}
	return nil
}
