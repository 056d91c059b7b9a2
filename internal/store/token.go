package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DefaultUserID is the key TokenStore records are stored under when the
// system operates for a single mailbox owner (per spec §6 persisted state
// layout: "keyed by user_id (default 'default')").
const DefaultUserID = "default"

// OAuthToken is one user's stored Gmail OAuth2 credential.
type OAuthToken struct {
	UserID       string
	RefreshToken string
	AccessToken  string
	ExpiryMs     int64
	LastUsedMs   int64
}

// TokenStore is C4: OAuth refresh-token records per user, with
// last-used timestamps updated on every successful Mailbox fetch.
type TokenStore struct {
	db *sql.DB
}

func NewTokenStore(db *sql.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Get returns the stored token for userID, or (nil, nil) if none exists.
func (s *TokenStore) Get(userID string) (*OAuthToken, error) {
	if userID == "" {
		userID = DefaultUserID
	}

	row := s.db.QueryRow(`
		SELECT user_id, refresh_token, access_token, expiry_ms, last_used_ms
		FROM oauth_tokens WHERE user_id = ?
	`, userID)

	var tok OAuthToken
	var accessToken sql.NullString
	var expiryMs, lastUsedMs sql.NullInt64
	err := row.Scan(&tok.UserID, &tok.RefreshToken, &accessToken, &expiryMs, &lastUsedMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token for %s: %w", userID, err)
	}
	tok.AccessToken = accessToken.String
	tok.ExpiryMs = expiryMs.Int64
	tok.LastUsedMs = lastUsedMs.Int64
	return &tok, nil
}

// Put upserts a token record.
func (s *TokenStore) Put(tok OAuthToken) error {
	if tok.UserID == "" {
		tok.UserID = DefaultUserID
	}

	_, err := s.db.Exec(`
		INSERT INTO oauth_tokens (user_id, refresh_token, access_token, expiry_ms, last_used_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			refresh_token = excluded.refresh_token,
			access_token = excluded.access_token,
			expiry_ms = excluded.expiry_ms,
			updated_at = CURRENT_TIMESTAMP
	`, tok.UserID, tok.RefreshToken, tok.AccessToken, tok.ExpiryMs, tok.LastUsedMs)
	if err != nil {
		return fmt.Errorf("put oauth token for %s: %w", tok.UserID, err)
	}
	return nil
}

// TouchLastUsed updates last_used_ms to now, called after every
// successful Mailbox fetch (spec §4.2).
func (s *TokenStore) TouchLastUsed(userID string) error {
	if userID == "" {
		userID = DefaultUserID
	}
	_, err := s.db.Exec(`
		UPDATE oauth_tokens SET last_used_ms = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?
	`, time.Now().UnixMilli(), userID)
	if err != nil {
		return fmt.Errorf("touch last_used for %s: %w", userID, err)
	}
	return nil
}
