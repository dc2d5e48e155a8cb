package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aretw0/forge/pkg/domain"
	"github.com/aretw0/forge/pkg/ports"
)

// EnvelopeKey holds the sealed state inside the stored blackboard.
const EnvelopeKey = "__encrypted__"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys are tried in order when the active key cannot decrypt,
	// so keys can be rotated without losing stored runs.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	next   ports.WorkflowStore
	config EncryptionConfig
}

// NewEncryptionMiddleware creates a middleware that seals every checkpoint with AES-GCM.
// The envelope keeps the fields needed for listing and cancellation in clear text.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.WorkflowStore) ports.WorkflowStore {
		return &encryptionMiddleware{
			next:   next,
			config: config,
		}
	}
}

func (m *encryptionMiddleware) Save(ctx context.Context, state *domain.WorkflowState) error {
	envelope, err := m.seal(state)
	if err != nil {
		return err
	}
	return m.next.Save(ctx, envelope)
}

func (m *encryptionMiddleware) Load(ctx context.Context, projectID string) (*domain.WorkflowState, error) {
	envelope, err := m.next.Load(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return m.open(envelope)
}

func (m *encryptionMiddleware) Update(ctx context.Context, projectID string, fn func(*domain.WorkflowState) error) error {
	return m.next.Update(ctx, projectID, func(envelope *domain.WorkflowState) error {
		state, err := m.open(envelope)
		if err != nil {
			return err
		}
		if err := fn(state); err != nil {
			return err
		}
		sealed, err := m.seal(state)
		if err != nil {
			return err
		}
		*envelope = *sealed
		return nil
	})
}

func (m *encryptionMiddleware) Delete(ctx context.Context, projectID string) error {
	return m.next.Delete(ctx, projectID)
}

func (m *encryptionMiddleware) List(ctx context.Context) ([]string, error) {
	return m.next.List(ctx)
}

func (m *encryptionMiddleware) seal(state *domain.WorkflowState) (*domain.WorkflowState, error) {
	plainText, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	ciphertext, err := encrypt(plainText, m.config.ActiveKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt state: %w", err)
	}
	return &domain.WorkflowState{
		ProjectID:       state.ProjectID,
		RunID:           state.RunID,
		CurrentPhase:    state.CurrentPhase,
		Status:          state.Status,
		CancelRequested: state.CancelRequested,
		StartedAt:       state.StartedAt,
		UpdatedAt:       state.UpdatedAt,
		Blackboard: map[string]any{
			EnvelopeKey: base64.StdEncoding.EncodeToString(ciphertext),
		},
	}, nil
}

func (m *encryptionMiddleware) open(envelope *domain.WorkflowState) (*domain.WorkflowState, error) {
	encryptedStr, ok := envelope.Blackboard[EnvelopeKey].(string)
	if !ok {
		return nil, errors.New("state is missing encrypted data envelope")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encryptedStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext base64: %w", err)
	}
	plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt state: %w", err)
	}

	var state domain.WorkflowState
	if err := json.Unmarshal(plainText, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted state: %w", err)
	}
	return &state, nil
}

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}
	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	return gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], nil)
}
