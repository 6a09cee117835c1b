package replaycatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gunlayer/broker/internal/replay"
)

// Entry describes one engagement bundle found on disk.
type Entry struct {
	Bundle    string        `json:"bundle"`
	CreatedAt string        `json:"created_at,omitempty"`
	Header    replay.Header `json:"header"`
}

// List walks root and returns every bundle that carries a readable header,
// ordered by mount and then by creation time.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "header.json" {
			return nil
		}
		header, err := replay.ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		bundle := filepath.Dir(path)
		entry := Entry{Bundle: bundle, Header: header}
		//1.- Bundles still being written have no header yet; a missing manifest only drops the timestamp.
		if manifest, err := replay.ReadManifest(bundle); err == nil {
			entry.CreatedAt = manifest.CreatedAt
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Header.MountID != entries[j].Header.MountID {
			return entries[i].Header.MountID < entries[j].Header.MountID
		}
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].Bundle < entries[j].Bundle
	})
	return entries, nil
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}
