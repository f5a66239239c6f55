// MANIFEST: per-database metadata that must outlive any one process.
//
// The hash algorithm and the compression flag change how bytes already
// on disk are interpreted, so they are fixed at creation and validated
// on every reopen. The manifest is replaced atomically — a crash during
// a write leaves either the old or the new file, never a torn one.
package quire

import (
	"bytes"
	"os"
	"path/filepath"

	json "github.com/goccy/go-json"
	"github.com/natefinch/atomic"
)

// manifestName is the manifest's filename inside the database directory.
const manifestName = "MANIFEST"

// manifestVersion is the current format version.
const manifestVersion = 1

type manifest struct {
	Version   int    `json:"version"`
	Created   uint64 `json:"created_ms"`
	Algorithm int    `json:"hash_algorithm"`
	Compress  bool   `json:"compress"`
}

// loadManifest reads the manifest from dir, or returns nil when the
// directory has none yet.
func loadManifest(dir string) (*manifest, error) {
	blob, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var m manifest
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, ErrCorruptManifest
	}
	if m.Version != manifestVersion {
		return nil, ErrCorruptManifest
	}
	return &m, nil
}

// write persists the manifest with an atomic replace.
func (m *manifest) write(dir string) error {
	blob, err := json.Marshal(m)
	if err != nil {
		return err
	}
	blob = append(blob, '\n')
	return atomic.WriteFile(filepath.Join(dir, manifestName), bytes.NewReader(blob))
}
