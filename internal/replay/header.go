package replay

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gunlayer/broker/internal/ballistics"
)

// HeaderSchemaVersion tracks the schema version for engagement header documents.
const HeaderSchemaVersion = 1

// Header describes the mount an engagement bundle was recorded on.
type Header struct {
	SchemaVersion int                `json:"schema_version"`
	MountID       string             `json:"mount_id"`
	Dimension     string             `json:"dimension,omitempty"`
	Cannon        string             `json:"cannon,omitempty"`
	Projectile    string             `json:"projectile,omitempty"`
	Ballistics    *ballistics.Params `json:"ballistics,omitempty"`
	TickHz        float64            `json:"tick_hz,omitempty"`
	FilePointer   string             `json:"file_pointer"`
}

// Validate ensures the header contains enough information for tooling.
func (h Header) Validate() error {
	if h.SchemaVersion <= 0 {
		return fmt.Errorf("schema_version must be positive")
	}
	if strings.TrimSpace(h.MountID) == "" {
		return fmt.Errorf("mount_id must not be empty")
	}
	if strings.TrimSpace(h.FilePointer) == "" {
		return fmt.Errorf("file_pointer must not be empty")
	}
	return nil
}

// WriteHeader persists the supplied header to the provided file path.
func WriteHeader(path string, header Header) error {
	if err := header.Validate(); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(header, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(payload, '\n'), 0o644)
}

// ReadHeader loads and decodes an engagement header from disk.
func ReadHeader(path string) (Header, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var header Header
	if err := json.Unmarshal(data, &header); err != nil {
		return Header{}, err
	}
	if err := header.Validate(); err != nil {
		return Header{}, err
	}
	return header, nil
}
