package meross

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nerrad567/meross-go/capability"
	"github.com/nerrad567/meross-go/device"
	"github.com/nerrad567/meross-go/model"
)

// Snapshot file permissions. The file holds the session token and
// signing key, so it must not be group or world readable.
const (
	snapshotFilePermissions = 0600
	snapshotDirPermissions  = 0750
)

// snapshot is the persisted session: credentials plus the fleet's
// inventory and ability maps, enough to rebuild every device without
// any cloud round trip.
type snapshot struct {
	SavedAt     time.Time         `json:"saved_at"`
	Credentials model.Credentials `json:"credentials"`
	Devices     []deviceSnapshot  `json:"devices"`
}

type deviceSnapshot struct {
	Info      model.DeviceInfo      `json:"info"`
	Abilities capability.AbilitySet `json:"abilities"`
}

// SaveSnapshot writes the current session and fleet to path. The file
// is written atomically via a temp file rename.
func (m *Manager) SaveSnapshot(path string) error {
	m.mu.RLock()
	creds := m.creds
	m.mu.RUnlock()

	snap := snapshot{
		SavedAt:     time.Now().UTC(),
		Credentials: creds,
	}
	for _, d := range m.registry.All() {
		snap.Devices = append(snap.Devices, deviceSnapshot{
			Info:      d.Info(),
			Abilities: d.Abilities(),
		})
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, snapshotDirPermissions); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, snapshotFilePermissions); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	m.log.Debug("snapshot saved", "path", path, "devices", len(snap.Devices))
	return nil
}

// loadSnapshot reads a previously saved session from path.
func loadSnapshot(path string) (snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}

// restoreDevices recomposes the snapshotted fleet. Devices restore in
// an unknown online state; the first System.All refresh or online
// push corrects it.
func (m *Manager) restoreDevices(snap snapshot) {
	for _, ds := range snap.Devices {
		info := ds.Info
		info.OnlineStatus = model.OnlineStatusUnknown
		d := device.New(device.Config{
			Info:      info,
			Abilities: ds.Abilities,
			Executor:  m,
			Composer:  m.composer,
			Logger:    m.log,
		})
		if err := m.registry.Add(d); err != nil {
			m.log.Warn("registering restored device", "uuid", ds.Info.UUID, "error", err)
		}
	}
	m.log.Info("fleet restored from snapshot", "devices", m.registry.Len())
}
