package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// UpsertPartnerKey stores (or replaces) the cached public key for one
// conversation partner. Replacing an existing key updates updated_at
// and leaves added_timestamp untouched.
func (s *Store) UpsertPartnerKey(key PartnerKey) error {
	if key.UserID == "" {
		return errors.New("user_id is required")
	}
	if key.PartnerID == "" {
		return errors.New("partner_id is required")
	}
	if key.PublicKey == "" {
		return errors.New("public_key is required")
	}
	if key.KeyFingerprint == "" {
		return errors.New("key_fingerprint is required")
	}
	if key.AddedTimestamp == 0 {
		key.AddedTimestamp = nowUnixMilli()
	}
	if key.UpdatedAt == 0 {
		key.UpdatedAt = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO partner_keys (
			user_id,
			partner_id,
			public_key,
			key_fingerprint,
			added_timestamp,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, partner_id) DO UPDATE SET
			public_key = excluded.public_key,
			key_fingerprint = excluded.key_fingerprint,
			updated_at = excluded.updated_at`,
		key.UserID,
		key.PartnerID,
		key.PublicKey,
		key.KeyFingerprint,
		key.AddedTimestamp,
		key.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert partner key %q/%q: %w", key.UserID, key.PartnerID, err)
	}

	return nil
}

// GetPartnerKey fetches the cached public key for one partner.
func (s *Store) GetPartnerKey(userID, partnerID string) (*PartnerKey, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if partnerID == "" {
		return nil, errors.New("partner_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			user_id,
			partner_id,
			public_key,
			key_fingerprint,
			added_timestamp,
			updated_at
		FROM partner_keys
		WHERE user_id = ? AND partner_id = ?`,
		userID,
		partnerID,
	)

	var key PartnerKey
	err := row.Scan(
		&key.UserID,
		&key.PartnerID,
		&key.PublicKey,
		&key.KeyFingerprint,
		&key.AddedTimestamp,
		&key.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get partner key %q/%q: %w", userID, partnerID, err)
	}

	return &key, nil
}

// DeletePartnerKey removes a cached partner key. Missing rows are not an error.
func (s *Store) DeletePartnerKey(userID, partnerID string) error {
	if userID == "" {
		return errors.New("user_id is required")
	}
	if partnerID == "" {
		return errors.New("partner_id is required")
	}

	if _, err := s.db.Exec(
		`DELETE FROM partner_keys WHERE user_id = ? AND partner_id = ?`,
		userID,
		partnerID,
	); err != nil {
		return fmt.Errorf("delete partner key %q/%q: %w", userID, partnerID, err)
	}

	return nil
}

// RecordKeyEvent appends one key lifecycle audit row.
func (s *Store) RecordKeyEvent(event KeyEvent) error {
	if event.UserID == "" {
		return errors.New("user_id is required")
	}
	if err := validateKeyEventType(event.EventType); err != nil {
		return err
	}
	if event.Timestamp == 0 {
		event.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO key_events (
			user_id,
			partner_id,
			event_type,
			old_fingerprint,
			new_fingerprint,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?)`,
		event.UserID,
		nullString(event.PartnerID),
		event.EventType,
		event.OldFingerprint,
		event.NewFingerprint,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert key event for %q: %w", event.UserID, err)
	}

	return nil
}

// GetKeyEvents returns the most recent key lifecycle rows for a user.
func (s *Store) GetKeyEvents(userID string, limit int) ([]KeyEvent, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT
			id,
			user_id,
			partner_id,
			event_type,
			old_fingerprint,
			new_fingerprint,
			timestamp
		FROM key_events
		WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`,
		userID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get key events for %q: %w", userID, err)
	}
	defer rows.Close()

	events := make([]KeyEvent, 0)
	for rows.Next() {
		var event KeyEvent
		var partnerID sql.NullString
		if err := rows.Scan(
			&event.ID,
			&event.UserID,
			&partnerID,
			&event.EventType,
			&event.OldFingerprint,
			&event.NewFingerprint,
			&event.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan key event row: %w", err)
		}
		if partnerID.Valid {
			value := partnerID.String
			event.PartnerID = &value
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate key event rows: %w", err)
	}

	return events, nil
}

func validateKeyEventType(eventType string) error {
	switch eventType {
	case KeyEventRegenerated, KeyEventPartnerRegenerated, KeyEventKeyMissing:
		return nil
	default:
		return fmt.Errorf("invalid key event type %q", eventType)
	}
}

func nullString(value *string) any {
	if value == nil || *value == "" {
		return nil
	}
	return *value
}
