package store

import (
	"archive/zip"
	"bytes"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coolbeans/timeagnostic/pkg/errors"
	"github.com/coolbeans/timeagnostic/pkg/logger"
	"github.com/coolbeans/timeagnostic/pkg/rdf"
)

// Format identifies a serialization accepted by the loader.
type Format string

const (
	FormatNQuads Format = "nquads"
	FormatJSONLD Format = "jsonld"
)

// DetectFormat infers the serialization from a file name.
func DetectFormat(name string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".nq", ".nquads", ".nt", ".ntriples":
		return FormatNQuads, true
	case ".json", ".jsonld":
		return FormatJSONLD, true
	default:
		return "", false
	}
}

// Parse reads quads in the given format.
func Parse(r io.Reader, format Format) ([]rdf.Quad, error) {
	switch format {
	case FormatNQuads:
		return ParseNQuads(r)
	case FormatJSONLD:
		return ParseJSONLD(r)
	default:
		return nil, errors.Newf("unsupported format %q", format)
	}
}

// Loader reads RDF files into a QuadStore.
type Loader struct {
	logger *zap.SugaredLogger
}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{logger: logger.ComponentLogger("store.loader")}
}

// LoadFiles reads every path into a fresh store. Directories are walked;
// .zip archives are opened and each supported entry is read. Paths load
// concurrently and are merged in argument order.
func (l *Loader) LoadFiles(paths []string) (*QuadStore, error) {
	parts := make([]*QuadStore, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			part := NewQuadStore()
			if err := l.loadPath(part, path); err != nil {
				return err
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	qs := NewQuadStore()
	for _, part := range parts {
		qs.MergeFrom(part)
	}
	l.logger.Infow("loaded quad store", logger.FieldCount, qs.Count(), "paths", len(paths))
	return qs, nil
}

func (l *Loader) loadPath(qs *QuadStore, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		return l.loadFile(qs, path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := DetectFormat(p); !ok && !strings.EqualFold(filepath.Ext(p), ".zip") {
			return nil
		}
		return l.loadFile(qs, p)
	})
}

func (l *Loader) loadFile(qs *QuadStore, path string) error {
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		return l.loadZip(qs, path)
	}
	format, ok := DetectFormat(path)
	if !ok {
		return errors.Newf("cannot infer format of %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	quads, err := Parse(f, format)
	if err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	added := qs.BulkAdd(quads)
	l.logger.Debugw("loaded file", logger.FieldFile, path, logger.FieldCount, added)
	return nil
}

func (l *Loader) loadZip(qs *QuadStore, path string) error {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(err, "open archive %s", path)
	}
	defer archive.Close()

	for _, entry := range archive.File {
		format, ok := DetectFormat(entry.Name)
		if !ok || entry.FileInfo().IsDir() {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return errors.Wrapf(err, "open %s in %s", entry.Name, path)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return errors.Wrapf(err, "read %s in %s", entry.Name, path)
		}
		quads, err := Parse(bytes.NewReader(data), format)
		if err != nil {
			return errors.Wrapf(err, "parse %s in %s", entry.Name, path)
		}
		added := qs.BulkAdd(quads)
		l.logger.Debugw("loaded archive entry", logger.FieldFile, path, "entry", entry.Name, logger.FieldCount, added)
	}
	return nil
}
