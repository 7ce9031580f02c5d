package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// The sent-plaintext cache lets the sender redisplay their own messages
// without the partner's private key. Entries live at
// cache/sent_<me>_<partner>/<messageId>. Blobs are opaque to the store;
// callers seal them before writing.

// WriteSentCacheEntry persists one sealed cache blob.
func (s *Store) WriteSentCacheEntry(userID, partnerID, messageID string, blob []byte) error {
	path, err := s.sentCachePath(userID, partnerID, messageID)
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return errors.New("cache blob is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		return fmt.Errorf("write cache entry %q: %w", messageID, err)
	}

	return nil
}

// ReadSentCacheEntry loads one sealed cache blob. Absence of an entry
// for an old self-sent message is expected and returns ErrNotFound.
func (s *Store) ReadSentCacheEntry(userID, partnerID, messageID string) ([]byte, error) {
	path, err := s.sentCachePath(userID, partnerID, messageID)
	if err != nil {
		return nil, err
	}

	blob, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry %q: %w", messageID, err)
	}

	return blob, nil
}

// DeleteSentCacheEntry removes one cache blob. Missing entries are not an error.
func (s *Store) DeleteSentCacheEntry(userID, partnerID, messageID string) error {
	path, err := s.sentCachePath(userID, partnerID, messageID)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete cache entry %q: %w", messageID, err)
	}

	return nil
}

// PurgeSentCache removes the whole cache tree for one conversation.
// Called after local key regeneration: the cache key derived from the
// discarded private key can no longer open these blobs.
func (s *Store) PurgeSentCache(userID, partnerID string) error {
	if err := validateCacheComponent(userID, "user_id"); err != nil {
		return err
	}
	if err := validateCacheComponent(partnerID, "partner_id"); err != nil {
		return err
	}

	dir := filepath.Join(s.cacheRoot, sentCacheDirName(userID, partnerID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("purge sent cache %q/%q: %w", userID, partnerID, err)
	}

	return nil
}

func (s *Store) sentCachePath(userID, partnerID, messageID string) (string, error) {
	if err := validateCacheComponent(userID, "user_id"); err != nil {
		return "", err
	}
	if err := validateCacheComponent(partnerID, "partner_id"); err != nil {
		return "", err
	}
	if err := validateCacheComponent(messageID, "message_id"); err != nil {
		return "", err
	}

	return filepath.Join(s.cacheRoot, sentCacheDirName(userID, partnerID), messageID), nil
}

func sentCacheDirName(userID, partnerID string) string {
	return "sent_" + userID + "_" + partnerID
}

func validateCacheComponent(value, name string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if strings.ContainsAny(value, `/\`) || value == "." || value == ".." {
		return fmt.Errorf("%s contains invalid path characters", name)
	}
	return nil
}
