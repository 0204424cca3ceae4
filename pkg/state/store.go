package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"vkharvest/pkg/config"
	"vkharvest/pkg/logger"
	"vkharvest/pkg/snapshot"
	"vkharvest/pkg/vk"
)

const (
	userDataFile     = "userData.json"
	userMentionsFile = "userMentions.json"
)

// Store owns the on-disk layout of a harvest run: per-account snapshot
// files under the language directory and the two cross-run cache files
// next to it. The presence of a snapshot file is the completion marker
// for its account; there is no separate progress ledger.
type Store struct {
	baseDir  string
	langDir  string
	usersDir string
	logger   logger.Logger
}

// NewStore creates the output directories for a language and returns a
// store rooted there.
func NewStore(cfg *config.OutputConfig, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}

	langDir := filepath.Join(cfg.BaseDirectory, cfg.Language)
	usersDir := filepath.Join(langDir, "users")
	if err := os.MkdirAll(usersDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Store{
		baseDir:  cfg.BaseDirectory,
		langDir:  langDir,
		usersDir: usersDir,
		logger:   log,
	}, nil
}

// SnapshotPath returns where the snapshot for an account lives. Groups
// sit directly in the language directory, individuals under users/.
func (s *Store) SnapshotPath(screenName string, kind snapshot.Kind) string {
	dir := s.langDir
	if kind == snapshot.KindIndividual {
		dir = s.usersDir
	}
	return filepath.Join(dir, screenName+".json")
}

// SnapshotExists reports whether an account has already been harvested
func (s *Store) SnapshotExists(screenName string, kind snapshot.Kind) bool {
	_, err := os.Stat(s.SnapshotPath(screenName, kind))
	return err == nil
}

// ShouldSkip decides whether an account can be left alone on this run
func (s *Store) ShouldSkip(screenName string, kind snapshot.Kind, overwrite bool) bool {
	if overwrite {
		return false
	}
	return s.SnapshotExists(screenName, kind)
}

// WriteSnapshot persists a finished account atomically: the document is
// written to a temp file in the target directory and renamed into place,
// so a crash never leaves a partial snapshot that a later run would
// mistake for a completed account.
func (s *Store) WriteSnapshot(screenName string, kind snapshot.Kind, snap *snapshot.Snapshot) error {
	path := s.SnapshotPath(screenName, kind)
	if err := writeJSONAtomic(path, snap); err != nil {
		return fmt.Errorf("failed to write snapshot for %s: %w", screenName, err)
	}

	s.logger.InfoWithFields("snapshot written", map[string]interface{}{
		"account": screenName,
		"kind":    kind.String(),
		"posts":   len(snap.Posts),
	})
	return nil
}

// LoadCaches reads the persisted profile and mention caches from the
// base directory. Missing or unreadable files start the caches empty.
func (s *Store) LoadCaches() (map[string]vk.Profile, map[string][]string) {
	profiles := make(map[string]vk.Profile)
	mentions := make(map[string][]string)

	if err := readJSON(filepath.Join(s.baseDir, userDataFile), &profiles); err != nil {
		s.logger.WarnWithFields("could not load profile cache, starting empty", map[string]interface{}{
			"file":  userDataFile,
			"error": err.Error(),
		})
		profiles = make(map[string]vk.Profile)
	}

	if err := readJSON(filepath.Join(s.baseDir, userMentionsFile), &mentions); err != nil {
		s.logger.WarnWithFields("could not load mention cache, starting empty", map[string]interface{}{
			"file":  userMentionsFile,
			"error": err.Error(),
		})
		mentions = make(map[string][]string)
	}

	return profiles, mentions
}

// SaveCaches persists both caches. Called after every account, finished
// or failed, so an interrupted run loses at most the account in flight.
func (s *Store) SaveCaches(profiles map[string]vk.Profile, mentions map[string][]string) error {
	if err := writeJSONAtomic(filepath.Join(s.baseDir, userDataFile), profiles); err != nil {
		return fmt.Errorf("failed to save profile cache: %w", err)
	}
	if err := writeJSONAtomic(filepath.Join(s.baseDir, userMentionsFile), mentions); err != nil {
		return fmt.Errorf("failed to save mention cache: %w", err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSONAtomic(path string, v interface{}) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	enc := json.NewEncoder(tmp)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
