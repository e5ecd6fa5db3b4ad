// Package local implements the flat output directory that holds generated
// Markdown documents and the archives built from them.
package local

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/crawler"
	"github.com/JakeFAU/pagemark/internal/metrics"
)

const (
	// MaxNameLength bounds a stored filename in bytes, suffix and extension included.
	MaxNameLength = 255
	// DocumentExt is appended to every saved document.
	DocumentExt = ".md"

	defaultName     = "document"
	maxCollisions   = 10000
	archiveLayout   = "bulk_download_20060102_150405"
	archiveExt      = ".zip"
	defaultFileMode = 0o600
)

var (
	unsafeChars   = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f\x7f]`)
	separatorRuns = regexp.MustCompile(`[\s.]+`)
)

// Config captures the parameters for the local document store.
type Config struct {
	// BaseDir is the flat directory where documents and archives are written.
	BaseDir string `mapstructure:"output_dir" yaml:"output_dir"`
}

// Store writes documents to the local filesystem.
type Store struct {
	baseDir string
	clock   crawler.Clock
	logger  *zap.Logger
}

// New creates a store rooted at cfg.BaseDir, creating the directory when
// needed and verifying it is writable.
func New(cfg Config, clock crawler.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), defaultFileMode); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Store{
		baseDir: cfg.BaseDir,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Dir returns the output directory.
func (s *Store) Dir() string {
	return s.baseDir
}

// SanitizeFilename removes filesystem-unsafe characters, collapses runs of
// whitespace and periods into a single underscore, and truncates the result
// to MaxNameLength bytes.
func SanitizeFilename(name string) string {
	name = unsafeChars.ReplaceAllString(name, "")
	name = separatorRuns.ReplaceAllString(name, "_")
	return truncate(name, MaxNameLength)
}

// Save writes content under a unique name derived from preferredName and
// returns the final filename, extension included. Collisions are resolved by
// appending _1, _2, and so on to the base name.
func (s *Store) Save(_ context.Context, content, preferredName string) (string, error) {
	base := SanitizeFilename(preferredName)
	if base == "" {
		base = defaultName
	}

	name, f, err := s.createUnique(base, DocumentExt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", crawler.ErrSaveFailed, err)
	}
	if _, err := io.WriteString(f, content); err != nil {
		_ = f.Close()
		_ = os.Remove(s.Path(name))
		return "", fmt.Errorf("%w: write %s: %w", crawler.ErrSaveFailed, name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: close %s: %w", crawler.ErrSaveFailed, name, err)
	}

	metrics.ObserveDocumentSaved()
	s.logger.Info("saved document", zap.String("filename", name), zap.Int("bytes", len(content)))
	return name, nil
}

// Path returns the on-disk location of filename. Existence is not checked.
// Directory components are discarded because the store is flat.
func (s *Store) Path(filename string) string {
	return filepath.Join(s.baseDir, filepath.Base(filepath.Clean("/"+filename)))
}

// Cleanup deletes regular files whose modification time is strictly older
// than maxAge and returns how many were removed. Per-file failures are logged
// and skipped.
func (s *Store) Cleanup(_ context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		s.logger.Error("cleanup scan failed", zap.String("dir", s.baseDir), zap.Error(err))
		return 0, fmt.Errorf("read output directory: %w", err)
	}

	now := s.clock.Now()
	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			s.logger.Warn("cleanup stat failed", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		age := now.Sub(info.ModTime())
		if age <= maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err != nil {
			s.logger.Warn("cleanup delete failed", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}
		removed++
		s.logger.Info("cleaned up old file", zap.String("file", entry.Name()), zap.Duration("age", age))
	}
	metrics.ObserveFilesCleaned(removed)
	return removed, nil
}

// Archive bundles the named files into a new timestamped zip in the output
// directory and returns the archive filename. Missing entries are skipped, so
// an empty but valid archive is produced when none exist.
func (s *Store) Archive(_ context.Context, filenames []string) (string, error) {
	base := s.clock.Now().UTC().Format(archiveLayout)
	name, f, err := s.createUnique(base, archiveExt)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	added, err := s.writeArchive(f, name, filenames)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close archive: %w", closeErr)
	}
	if err != nil {
		_ = os.Remove(s.Path(name))
		return "", err
	}

	s.logger.Info("created archive",
		zap.String("archive", name),
		zap.Int("requested", len(filenames)),
		zap.Int("added", added),
	)
	return name, nil
}

func (s *Store) writeArchive(w io.Writer, archiveName string, filenames []string) (int, error) {
	zw := zip.NewWriter(w)
	seen := make(map[string]struct{}, len(filenames))
	added := 0
	for _, requested := range filenames {
		entryName := filepath.Base(s.Path(requested))
		if _, dup := seen[entryName]; dup || entryName == archiveName {
			continue
		}
		seen[entryName] = struct{}{}

		ok, err := s.addEntry(zw, entryName)
		if err != nil {
			_ = zw.Close()
			return added, err
		}
		if ok {
			added++
		}
	}
	if err := zw.Close(); err != nil {
		return added, fmt.Errorf("finalize archive: %w", err)
	}
	return added, nil
}

func (s *Store) addEntry(zw *zip.Writer, entryName string) (bool, error) {
	src, err := os.Open(s.Path(entryName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("skipping archive entry",
				zap.String("file", entryName),
				zap.Error(crawler.ErrArchiveEntryMissing),
			)
			return false, nil
		}
		return false, fmt.Errorf("open %s: %w", entryName, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			s.logger.Debug("Failed to close archive source", zap.Error(cerr))
		}
	}()

	info, err := src.Stat()
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", entryName, err)
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return false, fmt.Errorf("zip header %s: %w", entryName, err)
	}
	header.Name = entryName
	header.Method = zip.Deflate
	dst, err := zw.CreateHeader(header)
	if err != nil {
		return false, fmt.Errorf("zip entry %s: %w", entryName, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return false, fmt.Errorf("copy %s: %w", entryName, err)
	}
	return true, nil
}

// createUnique exclusively creates base+ext, or base_N+ext for the first free
// N, keeping the whole name within MaxNameLength.
func (s *Store) createUnique(base, ext string) (string, *os.File, error) {
	for i := 0; i < maxCollisions; i++ {
		suffix := ""
		if i > 0 {
			suffix = "_" + strconv.Itoa(i)
		}
		name := truncate(base, MaxNameLength-len(suffix)-len(ext)) + suffix + ext
		f, err := os.OpenFile(filepath.Join(s.baseDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, defaultFileMode)
		if err == nil {
			return name, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, fmt.Errorf("create %s: %w", name, err)
		}
	}
	return "", nil, fmt.Errorf("no free name for %q after %d attempts", base, maxCollisions)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
