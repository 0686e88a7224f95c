// Package annotation loads and saves label files: JSON documents holding
// shape annotations drawn over a raw sample file, plus image-level flags
// and any extra keys written by other tools.
//
// A Store is bound to one document at a time and is not safe for
// concurrent use. Use one Store per document or lock externally.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dasannotate/pkg/samplefile"
)

const (
	// Basename is the conventional label file name without suffix
	Basename = "labels"

	// Suffix identifies label files
	Suffix = ".json"
)

// Logger receives diagnostics. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StoreParams configures a Store. Zero values select defaults.
type StoreParams struct {
	// Logger defaults to slog.Default()
	Logger Logger

	// Codec defaults to PNGMaskCodec
	Codec MaskCodec

	// Version is written on save and defaults to the package Version
	Version string
}

// Store holds the most recently loaded label file and its samples
type Store struct {
	logger  Logger
	codec   MaskCodec
	version string

	filename string
	doc      *Document
	samples  *samplefile.File
}

// NewStore creates an empty store
func NewStore(params StoreParams) *Store {
	s := &Store{
		logger:  params.Logger,
		codec:   params.Codec,
		version: params.Version,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.codec == nil {
		s.codec = PNGMaskCodec{}
	}
	if s.version == "" {
		s.version = Version
	}
	return s
}

// Document returns the loaded document, or nil before a successful Load
func (s *Store) Document() *Document { return s.doc }

// Samples returns the sample file decoded by the last Load. It is nil if
// no sample file was given or it could not be read.
func (s *Store) Samples() *samplefile.File { return s.samples }

// Filename returns the label file last loaded or saved
func (s *Store) Filename() string { return s.filename }

// Load parses the label file at annotationPath and decodes the sample
// file at samplePath, which may be empty. The store's state is replaced
// only if everything succeeds.
//
// An unreadable sample file is logged and leaves Samples nil; the
// annotations are still returned. A sample file with a malformed name
// or payload is an error.
func (s *Store) Load(annotationPath, samplePath string) (*Document, error) {
	data, err := os.ReadFile(annotationPath)
	if err != nil {
		return nil, &FileError{Op: "read", Path: annotationPath, Err: err}
	}

	doc, dims, err := parseDocument(data, s.codec)
	if err != nil {
		return nil, &FormatError{Path: annotationPath, Err: err}
	}

	samples, err := s.loadSamples(samplePath)
	if err != nil {
		return nil, err
	}
	if samples != nil {
		s.reconcileDimensions(doc, dims, samples)
	}

	if newerThan(doc.Version, s.version) {
		s.logger.Warn("label file was written by a newer version",
			"path", annotationPath, "fileVersion", doc.Version, "version", s.version)
	}

	s.logger.Debug("loaded label file",
		"path", annotationPath, "shapes", len(doc.Shapes), "extraKeys", len(doc.OtherData))

	s.doc = doc
	s.samples = samples
	s.filename = annotationPath
	return doc, nil
}

func (s *Store) loadSamples(samplePath string) (*samplefile.File, error) {
	if samplePath == "" {
		return nil, nil
	}
	samples, err := samplefile.Decode(samplePath)
	var ioErr *samplefile.IOError
	switch {
	case errors.As(err, &ioErr):
		s.logger.Error("failed opening sample file", "path", samplePath, "error", err)
		return nil, nil
	case err != nil:
		return nil, &FormatError{Path: samplePath, Err: err}
	}
	s.logger.Info("decoded sample file", "path", samplePath, "samples", samples.Describe())
	return samples, nil
}

// reconcileDimensions makes the document's image size match the decoded
// buffer, warning when the declared size disagrees.
func (s *Store) reconcileDimensions(doc *Document, dims declaredDims, samples *samplefile.File) {
	rows, cols := samples.Buffer.Rows, samples.Buffer.Cols
	if dims.height != nil && *dims.height != rows {
		s.logger.Warn("imageHeight does not match sample data, using sample data",
			"declared", *dims.height, "actual", rows)
	}
	if dims.width != nil && *dims.width != cols {
		s.logger.Warn("imageWidth does not match sample data, using sample data",
			"declared", *dims.width, "actual", cols)
	}
	doc.ImageHeight, doc.ImageWidth = rows, cols
}

// SaveParams is the content of a label file to be written
type SaveParams struct {
	Shapes []Shape

	// ImagePath is the sample file the shapes annotate; only its
	// directory is stored.
	ImagePath string

	ImageHeight int
	ImageWidth  int

	// OtherData keys must not collide with ReservedDocumentKeys
	OtherData map[string]json.RawMessage

	Flags map[string]bool
}

// SaveParams returns the parameters that write d back unchanged for the
// given sample file path.
func (d *Document) SaveParams(imagePath string) SaveParams {
	return SaveParams{
		Shapes:      d.Shapes,
		ImagePath:   imagePath,
		ImageHeight: d.ImageHeight,
		ImageWidth:  d.ImageWidth,
		OtherData:   d.OtherData,
		Flags:       d.Flags,
	}
}

// Save writes a label file to path. The file is written to a temporary
// sibling and renamed into place, so a failed save leaves any previous
// file intact. All errors are *FileError; reserved-key collisions wrap a
// *ContractError.
func (s *Store) Save(path string, params SaveParams) error {
	doc := &Document{
		Version:     s.version,
		Flags:       params.Flags,
		Shapes:      params.Shapes,
		ImageDir:    dirname(params.ImagePath),
		ImageHeight: params.ImageHeight,
		ImageWidth:  params.ImageWidth,
		OtherData:   params.OtherData,
	}
	if err := doc.checkReserved(); err != nil {
		return &FileError{Op: "save", Path: path, Err: err}
	}

	data, err := doc.encode(s.codec)
	if err != nil {
		return &FileError{Op: "encode", Path: path, Err: err}
	}
	if err := writeFileAtomic(path, data); err != nil {
		return &FileError{Op: "write", Path: path, Err: err}
	}

	s.logger.Debug("saved label file", "path", path, "shapes", len(doc.Shapes))
	s.filename = path
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// dirname returns the directory part of p, or "" if p has none
func dirname(p string) string {
	dir, _ := filepath.Split(p)
	if len(dir) > 1 {
		dir = strings.TrimRight(dir, string(filepath.Separator))
	}
	return dir
}

// IsAnnotationFile reports whether path has the label file suffix,
// ignoring case.
func IsAnnotationFile(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == Suffix
}
