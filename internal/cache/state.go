package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const stateVersion = 1

// State is the persisted recency snapshot. Entries are ordered most
// recently used first.
type State struct {
	Version int          `json:"version"`
	Entries []StateEntry `json:"entries"`
}

// StateEntry is one indexed key. Value is the last use as unix milliseconds.
type StateEntry struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

func readState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, err
	}
	return s, nil
}

// writeState replaces path atomically so a crash leaves either the old or
// the new snapshot on disk.
func writeState(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lru_states-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
