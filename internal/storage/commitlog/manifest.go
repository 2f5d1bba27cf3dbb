package commitlog

import (
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
)

const (
	manifestFilename = "manifest.json"
	manifestVersion  = 1
)

// Manifest is the durable restart record for a commit log directory.
// Epoch is the highest epoch ever written; TrimmedEpoch/TrimmedLogIndex
// mark the newest frame removed by retention (zero if nothing was trimmed).
type Manifest struct {
	Version         int    `json:"version"`
	Epoch           uint64 `json:"epoch"`
	TrimmedEpoch    uint64 `json:"trimmed_epoch"`
	TrimmedLogIndex uint64 `json:"trimmed_log_index"`
}

// manifestEnvelope wraps the manifest with a CRC so a torn write is
// detected rather than silently trusted.
type manifestEnvelope struct {
	Manifest Manifest `json:"manifest"`
	CRC      uint32   `json:"crc32"`
}

func manifestPath(dir string) string {
	return filepath.Join(dir, manifestFilename)
}

func loadManifest(dir string) (Manifest, bool, error) {
	raw, err := os.ReadFile(manifestPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return Manifest{Version: manifestVersion}, false, nil
		}
		return Manifest{}, false, fmt.Errorf("commitlog: read manifest: %w", err)
	}

	var env manifestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Manifest{}, false, fmt.Errorf("commitlog: decode manifest: %w", err)
	}

	body, err := json.Marshal(env.Manifest)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("commitlog: re-encode manifest: %w", err)
	}
	if crc32.ChecksumIEEE(body) != env.CRC {
		return Manifest{}, false, fmt.Errorf("commitlog: manifest crc mismatch")
	}
	if env.Manifest.Version != manifestVersion {
		return Manifest{}, false, fmt.Errorf("commitlog: unsupported manifest version %d", env.Manifest.Version)
	}
	return env.Manifest, true, nil
}

// storeManifest writes via temp file + rename so readers never observe a
// partially written manifest.
func storeManifest(dir string, m Manifest) error {
	m.Version = manifestVersion

	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("commitlog: encode manifest: %w", err)
	}
	env := manifestEnvelope{Manifest: m, CRC: crc32.ChecksumIEEE(body)}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("commitlog: encode manifest envelope: %w", err)
	}

	tmp, err := os.CreateTemp(dir, manifestFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("commitlog: create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("commitlog: write manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("commitlog: sync manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("commitlog: close manifest: %w", err)
	}
	if err := os.Rename(tmpPath, manifestPath(dir)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("commitlog: rename manifest: %w", err)
	}
	return nil
}
