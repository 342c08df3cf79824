package swapfile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/monify-labs/swapguard/internal/privileged"
	"github.com/monify-labs/swapguard/pkg/models"
)

var (
	// ErrInsufficientSpace is returned when the target filesystem cannot hold a new slot
	ErrInsufficientSpace = errors.New("insufficient disk space for swap file")
	// ErrCreateFailed wraps a privileged failure while building a slot
	ErrCreateFailed = errors.New("failed to create swap file")
)

// FreeSpaceFunc reports free space in MB on the filesystem that would hold path
type FreeSpaceFunc func(ctx context.Context, path string) (uint64, error)

// Outcome of CreateSlot
type Outcome int

const (
	Skipped Outcome = iota // all slots already exist
	Created
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "skipped"
}

// CreateResult describes a CreateSlot call
type CreateResult struct {
	Outcome Outcome
	Path    string
}

// Manager creates and removes swap slots
type Manager struct {
	registry       *Registry
	exec           privileged.Executor
	freeSpace      FreeSpaceFunc
	sizeMB         int
	safetyMarginMB int
	log            logrus.FieldLogger
}

// NewManager creates a slot lifecycle manager
func NewManager(registry *Registry, exec privileged.Executor, freeSpace FreeSpaceFunc, sizeMB, safetyMarginMB int, log logrus.FieldLogger) *Manager {
	return &Manager{
		registry:       registry,
		exec:           exec,
		freeSpace:      freeSpace,
		sizeMB:         sizeMB,
		safetyMarginMB: safetyMarginMB,
		log:            log,
	}
}

// Registry returns the slot registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// CreateSlot allocates, formats and activates the next free slot.
// Reaching the slot limit is not an error: the result is Skipped.
func (m *Manager) CreateSlot(ctx context.Context) (CreateResult, error) {
	count := m.registry.Count()
	if count >= m.registry.Max() {
		m.log.Warnf("Maximum number of additional swap files reached (%d)", m.registry.Max())
		return CreateResult{Outcome: Skipped}, nil
	}

	index := m.registry.NextFree()
	path := m.registry.Path(index)
	log := m.log.WithField("path", path)

	log.Warnf("Creating additional swap file of %d MB", m.sizeMB)

	free, err := m.freeSpace(ctx, path)
	if err != nil {
		return CreateResult{}, fmt.Errorf("check free space for %s: %w", path, err)
	}
	need := uint64(m.sizeMB + m.safetyMarginMB)
	if free < need {
		log.Errorf("Not enough disk space to create swap file (free %d MB, need %d MB)", free, need)
		return CreateResult{}, fmt.Errorf("%w: %s has %d MB free, need %d MB", ErrInsufficientSpace, filepath.Dir(path), free, need)
	}

	steps := []privileged.Operation{
		privileged.Allocate(path, m.sizeMB),
		privileged.OwnerOnly(path),
		privileged.Format(path),
		privileged.Activate(path),
	}
	for _, op := range steps {
		if _, err := m.exec.Execute(ctx, op); err != nil {
			log.Errorf("Failed to create additional swap file: %v", err)
			m.rollback(ctx, index)
			return CreateResult{}, fmt.Errorf("%w %s: %w", ErrCreateFailed, path, err)
		}
	}

	log.Info("Additional swap file created and activated")
	return CreateResult{Outcome: Created, Path: path}, nil
}

// rollback removes a partially created slot file. Failures are logged only.
func (m *Manager) rollback(ctx context.Context, index int) {
	if !m.registry.Exists(index) {
		return
	}
	path := m.registry.Path(index)
	if _, err := m.exec.Execute(ctx, privileged.Delete(path)); err != nil {
		m.log.WithField("path", path).Warnf("Cleanup of partial swap file failed: %v", err)
	}
}

// RemoveAllSlots deactivates and deletes every slot file. It never fails: a slot
// that cannot be deactivated keeps its file so the active swap area is not lost,
// and processing continues with the next index.
func (m *Manager) RemoveAllSlots(ctx context.Context) models.RemovalReport {
	var report models.RemovalReport

	for i := 1; i <= m.registry.Max(); i++ {
		if !m.registry.Exists(i) {
			continue
		}
		path := m.registry.Path(i)
		log := m.log.WithField("path", path)
		log.Info("Disabling additional swap file")

		active, err := privileged.ActiveSwaps(ctx, m.exec)
		if err != nil {
			log.Errorf("Cannot list active swaps, keeping file: %v", err)
			report.Retained = append(report.Retained, path)
			continue
		}

		if active[filepath.Clean(path)] {
			if _, err := m.exec.Execute(ctx, privileged.Deactivate(path)); err != nil {
				log.Errorf("Failed to deactivate swap file, keeping it: %v", err)
				report.Retained = append(report.Retained, path)
				continue
			}
		}

		if _, err := m.exec.Execute(ctx, privileged.Delete(path)); err != nil {
			log.Errorf("Failed to delete swap file: %v", err)
			report.Retained = append(report.Retained, path)
			continue
		}

		log.Info("Additional swap file removed")
		report.Removed = append(report.Removed, path)
	}

	return report
}

// Slots returns the state of every slot, using the live active-swap listing
func (m *Manager) Slots(ctx context.Context) ([]models.SlotInfo, error) {
	active, err := privileged.ActiveSwaps(ctx, m.exec)
	if err != nil {
		return nil, err
	}

	slots := make([]models.SlotInfo, 0, m.registry.Max())
	for i := 1; i <= m.registry.Max(); i++ {
		path := m.registry.Path(i)
		slots = append(slots, models.SlotInfo{
			Index:  i,
			Path:   path,
			Exists: m.registry.Exists(i),
			Active: active[filepath.Clean(path)],
		})
	}
	return slots, nil
}
