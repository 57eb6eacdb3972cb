package bots

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sellzap/sellzap/internal/vault"
)

// SecretStore persists bot credentials encrypted at rest. Plaintext exists
// only in the caller's hands, never in the database or logs.
type SecretStore struct {
	db    DB
	vault *vault.Vault
}

// NewSecretStore creates a secret store around the shared vault.
func NewSecretStore(db DB, v *vault.Vault) *SecretStore {
	if db == nil {
		panic("bots: db required")
	}
	if v == nil {
		panic("bots: vault required")
	}
	return &SecretStore{db: db, vault: v}
}

// Put encrypts and upserts the bot's credentials.
func (s *SecretStore) Put(ctx context.Context, botID uuid.UUID, secrets Secrets) error {
	aiKey, err := s.vault.Encrypt(secrets.AIKey)
	if err != nil {
		return fmt.Errorf("bots: encrypt ai key: %w", err)
	}
	providerToken, err := s.vault.Encrypt(secrets.ProviderToken)
	if err != nil {
		return fmt.Errorf("bots: encrypt provider token: %w", err)
	}
	phoneNumberID, err := s.vault.Encrypt(secrets.PhoneNumberID)
	if err != nil {
		return fmt.Errorf("bots: encrypt phone number id: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO bot_secrets (bot_id, ai_key_enc, provider_token_enc, phone_number_id_enc, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (bot_id) DO UPDATE SET
			ai_key_enc = EXCLUDED.ai_key_enc,
			provider_token_enc = EXCLUDED.provider_token_enc,
			phone_number_id_enc = EXCLUDED.phone_number_id_enc,
			updated_at = now()
	`, botID, aiKey, providerToken, phoneNumberID)
	if err != nil {
		return fmt.Errorf("bots: upsert secrets: %w", err)
	}
	return nil
}

// Get loads and decrypts the bot's credentials.
func (s *SecretStore) Get(ctx context.Context, botID uuid.UUID) (Secrets, error) {
	var aiKeyEnc, providerTokenEnc, phoneNumberIDEnc string
	err := s.db.QueryRow(ctx, `
		SELECT ai_key_enc, provider_token_enc, phone_number_id_enc
		FROM bot_secrets WHERE bot_id = $1
	`, botID).Scan(&aiKeyEnc, &providerTokenEnc, &phoneNumberIDEnc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Secrets{}, ErrNotFound
		}
		return Secrets{}, fmt.Errorf("bots: select secrets: %w", err)
	}

	var secrets Secrets
	if secrets.AIKey, err = s.vault.Decrypt(aiKeyEnc); err != nil {
		return Secrets{}, fmt.Errorf("bots: decrypt ai key: %w", err)
	}
	if secrets.ProviderToken, err = s.vault.Decrypt(providerTokenEnc); err != nil {
		return Secrets{}, fmt.Errorf("bots: decrypt provider token: %w", err)
	}
	if secrets.PhoneNumberID, err = s.vault.Decrypt(phoneNumberIDEnc); err != nil {
		return Secrets{}, fmt.Errorf("bots: decrypt phone number id: %w", err)
	}
	return secrets, nil
}
