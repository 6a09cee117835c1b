package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"gunlayer/broker/internal/lead"
	"gunlayer/broker/internal/registry"
	"gunlayer/broker/internal/trigger"
)

// TriggerRecord persists one controller's trigger state.
type TriggerRecord struct {
	MountID       string `gorm:"primaryKey;size:128"`
	Powered       bool
	Pulsing       bool
	NextPulseTick int64
	PulseOffTick  int64
	LastKnownPos  int64
	UpdatedAt     time.Time
}

// EndpointRecord persists one registry entry.
type EndpointRecord struct {
	Dimension string `gorm:"primaryKey;size:64"`
	Packed    int64  `gorm:"primaryKey;autoIncrement:false"`
	UpdatedAt time.Time
}

// ShotRecord keeps a fired solution for after-action review.
type ShotRecord struct {
	ID          uint   `gorm:"primaryKey"`
	MountID     string `gorm:"index;size:128"`
	Tick        int64
	AimX        float64
	AimY        float64
	AimZ        float64
	YawRad      float64
	PitchDeg    float64
	FlightTicks int
	Iterations  int
	Converged   bool
	CreatedAt   time.Time
}

// Models lists every table the store migrates.
var Models = []any{&TriggerRecord{}, &EndpointRecord{}, &ShotRecord{}}

// Store wraps the SQLite database behind gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path, creating the schema. An empty path
// keeps everything in memory for the life of the process.
func Open(path string) (*Store, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		dsn = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access sql interface: %w", err)
	}
	//1.- A single connection keeps an in-memory database alive and serialises writers.
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(Models...); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveTrigger upserts the trigger state of mountID.
func (s *Store) SaveTrigger(mountID string, state trigger.State) error {
	record := TriggerRecord{
		MountID:       mountID,
		Powered:       state.Powered,
		Pulsing:       state.Pulsing,
		NextPulseTick: state.NextPulseTick,
		PulseOffTick:  state.PulseOffTick,
		LastKnownPos:  state.LastKnownPos,
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
}

// LoadTrigger returns the persisted state for mountID and whether one existed.
func (s *Store) LoadTrigger(mountID string) (trigger.State, bool, error) {
	var record TriggerRecord
	err := s.db.Where("mount_id = ?", mountID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return trigger.State{NextPulseTick: trigger.NoTick, PulseOffTick: trigger.NoTick}, false, nil
	}
	if err != nil {
		return trigger.State{}, false, err
	}
	return trigger.State{
		Powered:       record.Powered,
		Pulsing:       record.Pulsing,
		NextPulseTick: record.NextPulseTick,
		PulseOffTick:  record.PulseOffTick,
		LastKnownPos:  record.LastKnownPos,
	}, true, nil
}

// SaveEndpoints replaces the stored endpoints of dim with positions.
func (s *Store) SaveEndpoints(dim string, positions []registry.BlockPos) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("dimension = ?", dim).Delete(&EndpointRecord{}).Error; err != nil {
			return err
		}
		if len(positions) == 0 {
			return nil
		}
		records := make([]EndpointRecord, 0, len(positions))
		for _, pos := range positions {
			records = append(records, EndpointRecord{Dimension: dim, Packed: pos.Long()})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&records).Error
	})
}

// LoadEndpoints registers every stored endpoint into endpoints and returns how many were loaded.
func (s *Store) LoadEndpoints(endpoints *registry.Endpoints) (int, error) {
	var records []EndpointRecord
	if err := s.db.Order("dimension, packed").Find(&records).Error; err != nil {
		return 0, err
	}
	for _, record := range records {
		endpoints.Register(record.Dimension, registry.FromLong(record.Packed))
	}
	return len(records), nil
}

// RecordShot appends a fired solution.
func (s *Store) RecordShot(mountID string, tick int64, solution lead.Solution) error {
	record := ShotRecord{
		MountID:     mountID,
		Tick:        tick,
		AimX:        solution.AimPoint.X,
		AimY:        solution.AimPoint.Y,
		AimZ:        solution.AimPoint.Z,
		YawRad:      solution.YawRad,
		PitchDeg:    solution.PitchDeg,
		FlightTicks: solution.FlightTicks,
		Iterations:  solution.Iterations,
		Converged:   solution.Converged,
	}
	return s.db.Create(&record).Error
}

// RecentShots returns up to limit shots of mountID, newest first.
func (s *Store) RecentShots(mountID string, limit int) ([]ShotRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []ShotRecord
	err := s.db.Where("mount_id = ?", mountID).Order("id desc").Limit(limit).Find(&records).Error
	return records, err
}
