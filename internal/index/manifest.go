package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tensorchord/pgvecto.rs-sub000/internal/growing"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/sealed"
	"github.com/tensorchord/pgvecto.rs-sub000/internal/view"
)

// manifestDoc is R/manifest.json: the durable record of which segment
// directories under R/segments belong to the index and which growing
// segment is currently accepting writes (§6).
type manifestDoc struct {
	Sealed  []string `json:"sealed"`
	Growing []string `json:"growing"`
	WriteID string   `json:"write_id"`
}

func manifestFromView(v *view.View) manifestDoc {
	var doc manifestDoc
	v.EachSealed(func(id string, _ *sealed.Segment) { doc.Sealed = append(doc.Sealed, id) })
	v.EachGrowing(func(id string, _ *growing.Segment) { doc.Growing = append(doc.Growing, id) })
	doc.WriteID = v.WriteID
	return doc
}

// writeFileAtomic writes data to path via a temp-file-then-rename,
// matching vecstore's own writeFile / the teacher's WAL checkpoint save
// discipline (internal/service/trace/wal.go's saveCheckpoint): never leave
// a half-written manifest or options file behind a crash.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // path is index-owned
	if err != nil {
		return fmt.Errorf("index: create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("index: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("index: sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("index: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("index: rename %s: %w", tmp, path)
	}
	return nil
}

func (idx *Index) manifestPath() string { return filepath.Join(idx.path, "manifest.json") }
func (idx *Index) optionsPath() string  { return filepath.Join(idx.path, "options.json") }
func (idx *Index) deleteDir() string    { return filepath.Join(idx.path, "delete") }
func (idx *Index) segmentsDir() string  { return filepath.Join(idx.path, "segments") }

func (idx *Index) segmentDir(id string) string { return filepath.Join(idx.segmentsDir(), id) }
func (idx *Index) growingWALPath(id string) string {
	return filepath.Join(idx.segmentDir(id), "wal")
}

func (idx *Index) persistManifest(v *view.View) error {
	doc := manifestFromView(v)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("index: marshal manifest: %w", err)
	}
	return writeFileAtomic(idx.manifestPath(), data)
}

func readManifest(path string) (manifestDoc, error) {
	data, err := os.ReadFile(path) //nolint:gosec // index-owned path
	if err != nil {
		return manifestDoc{}, fmt.Errorf("index: read manifest: %w", err)
	}
	var doc manifestDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return manifestDoc{}, fmt.Errorf("index: decode manifest: %w", err)
	}
	return doc, nil
}

func writeOptions(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("index: marshal options: %w", err)
	}
	return writeFileAtomic(path, data)
}

func readOptions(path string) (Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // index-owned path
	if err != nil {
		return Config{}, fmt.Errorf("index: read options: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("index: decode options: %w", err)
	}
	return cfg, nil
}
