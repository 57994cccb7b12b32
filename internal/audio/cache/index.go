package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const indexFileName = "cache_index.json"

// Entry is the index record for one cached payload.
type Entry struct {
	CreatedAt    float64 `json:"created_at"`
	LastAccessed float64 `json:"last_accessed"`
	Size         int64   `json:"size"`
	Engine       string  `json:"engine"`
	VoiceID      string  `json:"voice_id"`
}

func (e Entry) age(now time.Time) time.Duration {
	return now.Sub(fromEpoch(e.CreatedAt))
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromEpoch(s float64) time.Time {
	return time.Unix(0, int64(s*float64(time.Second)))
}

// loadIndex reads the index file. A missing file is an empty index; a file that
// does not decode is reported so the caller can discard it.
func loadIndex(path string) (map[string]*Entry, error) {
	index := make(map[string]*Entry)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return index, nil
		}
		return index, fmt.Errorf("failed to read cache index: %w", err)
	}

	if err := json.Unmarshal(data, &index); err != nil {
		return make(map[string]*Entry), fmt.Errorf("failed to decode cache index: %w", err)
	}
	for key, entry := range index {
		if entry == nil {
			delete(index, key)
		}
	}
	return index, nil
}

// saveIndex rewrites the index through a temp file and rename, so a crash
// mid-write leaves either the old or the new index, never a truncated one.
func saveIndex(path string, index map[string]*Entry) error {
	data, err := json.Marshal(index)
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}
	return writeFileAtomic(path, data)
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
