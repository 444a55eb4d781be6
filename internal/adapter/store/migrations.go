package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"go.etcd.io/bbolt"

	"palicanon/config"
)

// CurrentSchemaVersion is bumped on any change to the bucket layout or to
// the encoding of chunks, postings or vectors.
const CurrentSchemaVersion = 3

var keySchema = []byte("schema")

// Fingerprint is the part of the configuration baked into stored chunks,
// tokens and vectors. Changing any field invalidates the index.
type Fingerprint struct {
	Stemming     bool   `json:"stemming"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	EmbProvider  string `json:"emb_provider"`
	EmbModel     string `json:"emb_model"`
	EmbDimension int    `json:"emb_dimension"`
}

func FingerprintOf(cfg *config.Config) Fingerprint {
	return Fingerprint{
		Stemming:     cfg.Index.Stemming,
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
		EmbProvider:  cfg.Embedding.Provider,
		EmbModel:     cfg.Embedding.Model,
		EmbDimension: cfg.Embedding.Dimension,
	}
}

// changedFields lists the json names of the fields that differ.
func (f Fingerprint) changedFields(other Fingerprint) []string {
	var changed []string
	a, b := reflect.ValueOf(f), reflect.ValueOf(other)
	t := a.Type()
	for i := 0; i < t.NumField(); i++ {
		if a.Field(i).Interface() != b.Field(i).Interface() {
			changed = append(changed, t.Field(i).Tag.Get("json"))
		}
	}
	return changed
}

// SchemaInfo is the schema record kept in the stats bucket.
type SchemaInfo struct {
	Version     int          `json:"version"`
	Fingerprint *Fingerprint `json:"fingerprint,omitempty"`
}

func (s *BoltStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketStats).Get(keySchema)
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("decode schema record: %w", err)
		}
		return nil
	})
	return &info, err
}

func (s *BoltStore) SetSchemaInfo(info *SchemaInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketStats).Put(keySchema, data)
	})
}

// MigrationResult describes what has to happen before the index can be
// written with the given configuration.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

func (s *BoltStore) CheckMigration(cfg *config.Config) (*MigrationResult, error) {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}
	return planMigration(info, FingerprintOf(cfg)), nil
}

func planMigration(info *SchemaInfo, want Fingerprint) *MigrationResult {
	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("database created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
		return result
	case info.Version == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema version"
	case info.Version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	}

	if info.Fingerprint != nil {
		if changed := info.Fingerprint.changedFields(want); len(changed) > 0 {
			result.NeedsRebuild = true
			result.Reason = "index configuration changed: " + strings.Join(changed, ", ")
		}
	}
	return result
}

// migrationSteps[v] upgrades an index from version v to v+1. A step that
// returns rebuild=true cannot convert the data in place and the index is
// cleared instead.
var migrationSteps = map[int]func(tx *bbolt.Tx) (rebuild bool, err error){
	1: func(tx *bbolt.Tx) (bool, error) {
		_, err := tx.CreateBucketIfNotExists(bucketDocChunks)
		return false, err
	},
	// v3 keeps chunk metadata next to each vector for filtered search.
	2: func(tx *bbolt.Tx) (bool, error) {
		return tx.Bucket(bucketVectors).Stats().KeyN > 0, nil
	},
}

// Migrate upgrades the schema and records the fingerprint of cfg.
func (s *BoltStore) Migrate(cfg *config.Config) error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}

	rebuild := false
	for v := info.Version; v < CurrentSchemaVersion; v++ {
		step, ok := migrationSteps[v]
		if !ok {
			continue
		}
		err := s.update(func(tx *bbolt.Tx) error {
			r, err := step(tx)
			rebuild = rebuild || r
			return err
		})
		if err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}
	if rebuild {
		s.logger.Info("schema upgrade requires re-indexing, clearing index", "from", info.Version, "to", CurrentSchemaVersion)
		if err := s.Clear(); err != nil {
			return err
		}
	}

	fp := FingerprintOf(cfg)
	return s.SetSchemaInfo(&SchemaInfo{Version: CurrentSchemaVersion, Fingerprint: &fp})
}

// NeedsRebuild reports whether the stored index was built with a different
// configuration or by a newer schema.
func (s *BoltStore) NeedsRebuild(cfg *config.Config) (bool, string, error) {
	result, err := s.CheckMigration(cfg)
	if err != nil {
		return false, "", err
	}
	return result.NeedsRebuild, result.Reason, nil
}
