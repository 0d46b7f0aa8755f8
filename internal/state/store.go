package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	merrors "github.com/Aman-CERP/mongomaint/internal/errors"
)

// Store reads and writes checkpoint, backup, and report files under one
// state directory. Writes are atomic (temp file + rename) so a crash mid-save
// never leaves a torn checkpoint behind.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// CheckpointPath returns the checkpoint file path for a cluster.
func (s *Store) CheckpointPath(cluster string) string {
	return filepath.Join(s.dir, cluster+"-rebuild-state.json")
}

// BackupPath returns the index-backup file path for a cluster.
func (s *Store) BackupPath(cluster string) string {
	return filepath.Join(s.dir, cluster+"-indexes-backup.json")
}

// Load reads the checkpoint for a cluster. A missing file is not an error:
// it returns (nil, nil) and the caller starts fresh.
func (s *Store) Load(cluster string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.CheckpointPath(cluster))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, merrors.New(merrors.ErrCodeStateRead, "failed to read checkpoint", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, merrors.New(merrors.ErrCodeStateCorrupt,
			fmt.Sprintf("checkpoint file %s is corrupt", s.CheckpointPath(cluster)), err)
	}
	if cp.Completed == nil {
		cp.Completed = make(map[string][]string)
	}
	return &cp, nil
}

// LoadOrCreate reads the checkpoint, creating an empty one when absent.
func (s *Store) LoadOrCreate(cluster string) (*Checkpoint, error) {
	cp, err := s.Load(cluster)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = NewCheckpoint(cluster)
	}
	return cp, nil
}

// Save persists the checkpoint atomically. Called after every completed
// index, so a crash right after an index finished resumes past it.
func (s *Store) Save(cp *Checkpoint) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return merrors.New(merrors.ErrCodeStateWrite, "failed to create state directory", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return merrors.New(merrors.ErrCodeStateWrite, "failed to marshal checkpoint", err)
	}

	path := s.CheckpointPath(cp.Cluster)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return merrors.New(merrors.ErrCodeStateWrite, "failed to write checkpoint", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return merrors.New(merrors.ErrCodeStateWrite, "failed to save checkpoint", err)
	}
	return nil
}

// Delete removes a cluster's checkpoint. Only called when a run finishes
// with zero remaining work.
func (s *Store) Delete(cluster string) error {
	err := os.Remove(s.CheckpointPath(cluster))
	if err != nil && !os.IsNotExist(err) {
		return merrors.New(merrors.ErrCodeStateWrite, "failed to delete checkpoint", err)
	}
	return nil
}

// ListClusters returns the cluster names that have a checkpoint on disk.
func (s *Store) ListClusters() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, merrors.New(merrors.ErrCodeStateRead, "failed to read state directory", err)
	}

	const suffix = "-rebuild-state.json"
	var clusters []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		clusters = append(clusters, name[:len(name)-len(suffix)])
	}
	return clusters, nil
}
