// Package credstore persists per-channel credential bundles twice: as a
// directory of files the protocol client reads directly (fast path) and as
// one serialized blob on the channel record (durability fallback for
// ephemeral local disks).
package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/WHABGAMES/rafeq-backend-sub002/internal/repository"
)

const bundleVersion = 1

// bundle is the transportable form of an auth-state directory. File names
// are slash-separated paths relative to the channel directory.
type bundle struct {
	Version int               `json:"version"`
	Files   map[string][]byte `json:"files"`
}

type Store struct {
	root     string
	channels repository.ChannelRepository
}

func New(root string, channels repository.ChannelRepository) *Store {
	return &Store{root: root, channels: channels}
}

// Dir returns the auth-state directory owned by the channel's session.
func (s *Store) Dir(channelID string) string {
	return filepath.Join(s.root, channelID)
}

// Save reads the channel's on-disk credential files and mirrors them into
// the channel record's blob column. The mirror is best-effort: callers log
// and swallow the returned error, a failed mirror must not tear down an
// otherwise healthy connection.
func (s *Store) Save(ctx context.Context, channelID string) error {
	dir := s.Dir(channelID)

	b := bundle{Version: bundleVersion, Files: make(map[string][]byte)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		b.Files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return fmt.Errorf("read auth state %s: %w", channelID, err)
	}
	if len(b.Files) == 0 {
		return fmt.Errorf("no auth state files for channel %s", channelID)
	}

	blob, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("serialize auth state %s: %w", channelID, err)
	}

	if err := s.channels.SaveAuthState(ctx, channelID, blob); err != nil {
		return fmt.Errorf("mirror auth state %s: %w", channelID, err)
	}

	log.Debug().
		Str("channelId", channelID).
		Int("files", len(b.Files)).
		Int("bytes", len(blob)).
		Msg("credential bundle mirrored")
	return nil
}

// Restore makes on-disk credential files available for a silent resume.
// It prefers files already on disk (same-host restart) and otherwise
// reconstitutes them from the channel record's blob. Returns whether usable
// material now exists.
func (s *Store) Restore(ctx context.Context, channelID string) (bool, error) {
	dir := s.Dir(channelID)

	if hasFiles(dir) {
		return true, nil
	}

	blob, err := s.channels.GetAuthState(ctx, channelID)
	if err != nil {
		return false, fmt.Errorf("load auth state %s: %w", channelID, err)
	}
	if len(blob) == 0 {
		return false, nil
	}

	var b bundle
	if err := json.Unmarshal(blob, &b); err != nil {
		return false, fmt.Errorf("decode auth state %s: %w", channelID, err)
	}

	for name, data := range b.Files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return false, fmt.Errorf("restore auth state %s: %w", channelID, err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return false, fmt.Errorf("restore auth state %s: %w", channelID, err)
		}
	}

	log.Info().
		Str("channelId", channelID).
		Int("files", len(b.Files)).
		Msg("credential bundle restored from database")
	return true, nil
}

// Purge removes both halves of the bundle. Idempotent: missing files or an
// already-empty blob are not errors.
func (s *Store) Purge(ctx context.Context, channelID string) error {
	if err := os.RemoveAll(s.Dir(channelID)); err != nil {
		return fmt.Errorf("remove auth dir %s: %w", channelID, err)
	}
	if err := s.channels.ClearAuthState(ctx, channelID); err != nil {
		return fmt.Errorf("clear auth blob %s: %w", channelID, err)
	}
	return nil
}

func hasFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() {
			return true
		}
		if hasFiles(filepath.Join(dir, e.Name())) {
			return true
		}
	}
	return false
}
