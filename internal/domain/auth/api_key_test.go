package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// mockStore implements Store for testing.
type mockStore struct {
	creds map[string]*Credential
}

func newMockStore() *mockStore {
	return &mockStore{creds: make(map[string]*Credential)}
}

func (m *mockStore) GetByHash(ctx context.Context, keyHash string) (*Credential, error) {
	cred, ok := m.creds[keyHash]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

func (m *mockStore) List(ctx context.Context) ([]*Credential, error) {
	result := make([]*Credential, 0, len(m.creds))
	for _, cred := range m.creds {
		result = append(result, cred)
	}
	return result, nil
}

// Compile-time check that mockStore implements Store.
var _ Store = (*mockStore)(nil)

func TestCheckKeyFormat(t *testing.T) {
	tests := []struct {
		name    string
		rawKey  string
		wantErr error
	}{
		{
			name:    "valid key",
			rawKey:  "agent_sk_test_key_12345678901234567890",
			wantErr: nil,
		},
		{
			name:    "missing prefix",
			rawKey:  "sk_test_key_123456789012345678901234567",
			wantErr: ErrInvalidKeyFormat,
		},
		{
			name:    "empty key",
			rawKey:  "",
			wantErr: ErrInvalidKeyFormat,
		},
		{
			name:    "prefix only",
			rawKey:  "agent_sk_",
			wantErr: ErrKeyTooShort,
		},
		{
			name:    "too short",
			rawKey:  "agent_sk_short",
			wantErr: ErrKeyTooShort,
		},
		{
			name:    "exactly minimum length",
			rawKey:  "agent_sk_" + strings.Repeat("a", MinKeyLength-len(KeyPrefix)),
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckKeyFormat(tt.rawKey)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("CheckKeyFormat(%q) = %v, want %v", tt.rawKey, err, tt.wantErr)
			}
		})
	}
}

func TestAPIKeyService_Validate(t *testing.T) {
	rawKey := "agent_sk_test_key_12345678901234567890"
	keyHash := HashKey(rawKey)

	now := time.Now().UTC()
	pastTime := now.Add(-1 * time.Hour)
	futureTime := now.Add(1 * time.Hour)

	tests := []struct {
		name       string
		rawKey     string
		setupStore func(*mockStore)
		wantErr    error
		wantID     string
	}{
		{
			name:   "valid key returns agent",
			rawKey: rawKey,
			setupStore: func(m *mockStore) {
				m.creds[keyHash] = &Credential{
					KeyHash:   keyHash,
					Agent:     Agent{ID: "test_agent", Name: "Test Agent", Permissions: []string{"*"}},
					CreatedAt: now,
					ExpiresAt: &futureTime,
				}
			},
			wantID: "test_agent",
		},
		{
			name:   "valid key without expiry returns agent",
			rawKey: rawKey,
			setupStore: func(m *mockStore) {
				m.creds[keyHash] = &Credential{
					KeyHash:   keyHash,
					Agent:     Agent{ID: "billing_agent", Name: "Billing Agent", Permissions: []string{"refund", "payment"}},
					CreatedAt: now,
				}
			},
			wantID: "billing_agent",
		},
		{
			name:   "expired key returns ErrInvalidKey",
			rawKey: rawKey,
			setupStore: func(m *mockStore) {
				m.creds[keyHash] = &Credential{
					KeyHash:   keyHash,
					Agent:     Agent{ID: "test_agent"},
					CreatedAt: pastTime,
					ExpiresAt: &pastTime,
				}
			},
			wantErr: ErrInvalidKey,
		},
		{
			name:   "revoked key returns ErrInvalidKey",
			rawKey: rawKey,
			setupStore: func(m *mockStore) {
				m.creds[keyHash] = &Credential{
					KeyHash:   keyHash,
					Agent:     Agent{ID: "test_agent"},
					CreatedAt: now,
					Revoked:   true,
				}
			},
			wantErr: ErrInvalidKey,
		},
		{
			name:       "unknown key returns ErrInvalidKey",
			rawKey:     rawKey,
			setupStore: func(m *mockStore) {},
			wantErr:    ErrInvalidKey,
		},
		{
			name:       "malformed key rejected before lookup",
			rawKey:     "not_a_key",
			setupStore: func(m *mockStore) {},
			wantErr:    ErrInvalidKeyFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMockStore()
			tt.setupStore(store)
			svc := NewAPIKeyService(store)

			agent, err := svc.Validate(context.Background(), tt.rawKey)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if agent.ID != tt.wantID {
				t.Errorf("Validate() agent ID = %q, want %q", agent.ID, tt.wantID)
			}
		})
	}
}

func TestAPIKeyService_ValidateArgon2idFallback(t *testing.T) {
	rawKey := "agent_sk_argon_key_1234567890abcdef"
	phcHash, err := HashKeyArgon2id(rawKey)
	if err != nil {
		t.Fatalf("HashKeyArgon2id: %v", err)
	}

	store := newMockStore()
	store.creds[phcHash] = &Credential{
		KeyHash: phcHash,
		Agent:   Agent{ID: "argon_agent", Name: "Argon Agent", Permissions: []string{"*"}},
	}
	svc := NewAPIKeyService(store)

	agent, err := svc.Validate(context.Background(), rawKey)
	if err != nil {
		t.Fatalf("Validate() with argon2id hash: %v", err)
	}
	if agent.ID != "argon_agent" {
		t.Errorf("agent ID = %q, want argon_agent", agent.ID)
	}

	// Wrong key must not match any stored hash.
	if _, err := svc.Validate(context.Background(), "agent_sk_wrong_key_1234567890abcdef"); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("wrong key error = %v, want ErrInvalidKey", err)
	}
}

func TestGenerateKey(t *testing.T) {
	plaintext, hash, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	if err := CheckKeyFormat(plaintext); err != nil {
		t.Errorf("generated key fails format check: %v", err)
	}
	if HashKey(plaintext) != hash {
		t.Errorf("returned hash does not match HashKey(plaintext)")
	}

	// Two generated keys must differ.
	second, _, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey (second): %v", err)
	}
	if plaintext == second {
		t.Error("two generated keys are identical")
	}
}

func TestDetectHashType(t *testing.T) {
	tests := []struct {
		name       string
		storedHash string
		want       string
	}{
		{"argon2id PHC", "$argon2id$v=19$m=48128,t=1,p=1$c2FsdA$aGFzaA", "argon2id"},
		{"prefixed sha256", "sha256:" + strings.Repeat("ab", 32), "sha256"},
		{"bare sha256 hex", strings.Repeat("ab", 32), "sha256"},
		{"bare non-hex 64 chars", strings.Repeat("zz", 32), "unknown"},
		{"empty", "", "unknown"},
		{"random text", "hello world", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectHashType(tt.storedHash); got != tt.want {
				t.Errorf("DetectHashType(%q) = %q, want %q", tt.storedHash, got, tt.want)
			}
		})
	}
}

func TestVerifyKey(t *testing.T) {
	rawKey := "agent_sk_verify_key_1234567890abcdef"

	t.Run("sha256 match", func(t *testing.T) {
		ok, err := VerifyKey(rawKey, HashKey(rawKey))
		if err != nil || !ok {
			t.Errorf("VerifyKey sha256 = (%v, %v), want (true, nil)", ok, err)
		}
	})

	t.Run("sha256 prefixed match", func(t *testing.T) {
		ok, err := VerifyKey(rawKey, "sha256:"+HashKey(rawKey))
		if err != nil || !ok {
			t.Errorf("VerifyKey prefixed sha256 = (%v, %v), want (true, nil)", ok, err)
		}
	})

	t.Run("sha256 mismatch", func(t *testing.T) {
		ok, err := VerifyKey("agent_sk_other_key_000000000000000000", HashKey(rawKey))
		if err != nil || ok {
			t.Errorf("VerifyKey mismatch = (%v, %v), want (false, nil)", ok, err)
		}
	})

	t.Run("unknown hash type", func(t *testing.T) {
		_, err := VerifyKey(rawKey, "md5:abcdef")
		if !errors.Is(err, ErrUnknownHashType) {
			t.Errorf("VerifyKey unknown type error = %v, want ErrUnknownHashType", err)
		}
	})

	t.Run("malformed argon2id does not panic", func(t *testing.T) {
		ok, err := VerifyKey(rawKey, "$argon2id$v=19$m=0,t=0,p=0$$")
		if ok {
			t.Error("malformed argon2id hash verified as match")
		}
		if err == nil {
			t.Error("malformed argon2id hash returned no error")
		}
	})
}

func TestAgentAllowsAction(t *testing.T) {
	tests := []struct {
		name        string
		permissions []string
		actionType  string
		want        bool
	}{
		{"wildcard allows anything", []string{"*"}, "database_write", true},
		{"listed action allowed", []string{"refund", "api_call"}, "refund", true},
		{"unlisted action denied", []string{"refund", "api_call"}, "database_write", false},
		{"empty permissions deny everything", nil, "api_call", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := &Agent{ID: "a", Permissions: tt.permissions}
			if got := agent.AllowsAction(tt.actionType); got != tt.want {
				t.Errorf("AllowsAction(%q) = %v, want %v", tt.actionType, got, tt.want)
			}
		})
	}
}
