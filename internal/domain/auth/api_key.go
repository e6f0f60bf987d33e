package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrInvalidKey is returned when an API key is unknown, expired, or revoked.
var ErrInvalidKey = errors.New("invalid api key")

// ErrInvalidKeyFormat is returned when a key does not carry the agent_sk_ prefix.
var ErrInvalidKeyFormat = errors.New("api key must start with " + KeyPrefix)

// ErrKeyTooShort is returned when a key is shorter than MinKeyLength.
var ErrKeyTooShort = errors.New("api key is too short")

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("unknown hash type")

// Hash kinds recognized in stored credentials, as reported by DetectHashType.
const (
	hashArgon2id = "argon2id"
	hashSHA256   = "sha256"
	hashUnknown  = "unknown"
)

// sha256Prefix marks a stored hash as explicit SHA-256; bare 64-char hex
// is accepted too.
const sha256Prefix = "sha256:"

// CheckKeyFormat validates the shape of a raw API key without consulting
// the store. Obviously malformed keys fail here, before any hashing.
func CheckKeyFormat(rawKey string) error {
	if !strings.HasPrefix(rawKey, KeyPrefix) {
		return ErrInvalidKeyFormat
	}
	if len(rawKey) < MinKeyLength {
		return ErrKeyTooShort
	}
	return nil
}

// APIKeyService resolves raw API keys to agents.
type APIKeyService struct {
	store Store
}

func NewAPIKeyService(store Store) *APIKeyService {
	return &APIKeyService{store: store}
}

// Validate resolves a raw key to its agent. Malformed keys fail with
// ErrInvalidKeyFormat or ErrKeyTooShort; unknown, revoked, and expired
// keys all collapse to ErrInvalidKey so callers leak nothing about which
// case they hit.
func (s *APIKeyService) Validate(ctx context.Context, rawKey string) (*Agent, error) {
	if err := CheckKeyFormat(rawKey); err != nil {
		return nil, err
	}

	// Config-seeded credentials store plain SHA-256, so a digest lookup
	// answers most requests without touching argon2id.
	if cred, err := s.store.GetByHash(ctx, HashKey(rawKey)); err == nil {
		return s.resolve(cred)
	}

	// Argon2id hashes embed a salt and cannot be looked up by digest;
	// walk the credentials and verify each.
	all, err := s.store.List(ctx)
	if err != nil {
		return nil, ErrInvalidKey
	}
	for _, cred := range all {
		if ok, err := VerifyKey(rawKey, cred.KeyHash); err == nil && ok {
			return s.resolve(cred)
		}
	}
	return nil, ErrInvalidKey
}

// resolve checks revocation and expiry and returns the agent.
func (s *APIKeyService) resolve(cred *Credential) (*Agent, error) {
	if cred.Revoked || cred.IsExpired() {
		return nil, ErrInvalidKey
	}
	agent := cred.Agent
	return &agent, nil
}

// keyRandomBytes is the number of random bytes in a generated key (32 hex chars).
const keyRandomBytes = 16

// GenerateKey creates a new agent API key. It returns the plaintext key
// (shown once to the operator) and its SHA-256 hash (for the credential
// store).
//
// Key format: agent_sk_ + 32 random hex characters.
func GenerateKey() (plaintext string, sha256Hash string, err error) {
	b := make([]byte, keyRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	plaintext = KeyPrefix + hex.EncodeToString(b)
	return plaintext, HashKey(plaintext), nil
}

// HashKey returns the SHA-256 hex digest of the raw key. This is the
// fast-path lookup form; stored hashes should prefer HashKeyArgon2id.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// argon2idParams is OWASP's minimum cost for Argon2id: 47 MiB of memory,
// one pass, one lane.
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashKeyArgon2id returns a salted Argon2id hash of the raw key in PHC
// string format: $argon2id$v=19$m=48128,t=1,p=1$<salt>$<hash>.
func HashKeyArgon2id(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, argon2idParams)
}

// DetectHashType reports which algorithm produced a stored hash:
// "argon2id" for PHC strings, "sha256" for prefixed or bare 64-char hex,
// "unknown" otherwise.
func DetectHashType(storedHash string) string {
	switch {
	case strings.HasPrefix(storedHash, "$argon2id$"):
		return hashArgon2id
	case strings.HasPrefix(storedHash, sha256Prefix):
		return hashSHA256
	case len(storedHash) == hex.EncodedLen(sha256.Size) && isHex(storedHash):
		return hashSHA256
	default:
		return hashUnknown
	}
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

// VerifyKey reports whether a raw key matches a stored hash of any
// recognized kind. A mismatch is (false, nil); an unrecognized hash
// format is (false, ErrUnknownHashType).
func VerifyKey(rawKey, storedHash string) (bool, error) {
	switch DetectHashType(storedHash) {
	case hashArgon2id:
		return compareArgon2id(rawKey, storedHash)
	case hashSHA256:
		want := strings.TrimPrefix(storedHash, sha256Prefix)
		got := HashKey(rawKey)
		// Digests are fixed-length, so compare in constant time anyway.
		return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// compareArgon2id runs the argon2id comparison behind a recover: the
// library panics rather than erroring on PHC strings whose cost
// parameters are zero, and a stored hash must never take the server down.
func compareArgon2id(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}
