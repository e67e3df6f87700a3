package permission

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NicolasHaas/simpleadmin/pkg/model"
)

const (
	GroupsFileName = "groups.json"
	AdminsFileName = "admins.json"
)

// GroupDefinition is a group flattened to mapped capabilities.
type GroupDefinition struct {
	Flags    []model.Capability `json:"flags"`
	Immunity int                `json:"immunity"`
}

// GroupSnapshot maps "#<group>" to its definition.
type GroupSnapshot map[string]GroupDefinition

// AdminEntry is one exported admin, identified by Steam64.
type AdminEntry struct {
	Identity string             `json:"identity"`
	Immunity int                `json:"immunity"`
	Flags    []model.Capability `json:"flags"`
	Groups   []string           `json:"groups"`
}

// AdminSnapshot maps lower-cased display names to admins.
type AdminSnapshot map[string]AdminEntry

// SnapshotWriter publishes both snapshots wholesale.
type SnapshotWriter interface {
	WriteSnapshots(groups GroupSnapshot, admins AdminSnapshot) error
}

// FileWriter writes groups.json and admins.json into Dir. Each file is
// replaced atomically.
type FileWriter struct {
	Dir string
}

func (w FileWriter) WriteSnapshots(groups GroupSnapshot, admins AdminSnapshot) error {
	if err := os.MkdirAll(w.Dir, 0o750); err != nil {
		return fmt.Errorf("permission: create snapshot dir: %w", err)
	}
	if err := writeJSON(filepath.Join(w.Dir, GroupsFileName), groups); err != nil {
		return err
	}
	return writeJSON(filepath.Join(w.Dir, AdminsFileName), admins)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("permission: encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("permission: write %s: %w", filepath.Base(path), err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("permission: write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("permission: close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("permission: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
