package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// sha256HexLength is the length of a hex-encoded SHA-256 digest.
const sha256HexLength = 64

// RegisterCustomValidators registers gateway-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: a string time.ParseDuration accepts ("5s", "1m30s").
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	// key_hash: SHA-256 hex or Argon2id PHC string.
	if err := v.RegisterValidation("key_hash", validateKeyHash); err != nil {
		return fmt.Errorf("failed to register key_hash validator: %w", err)
	}
	return nil
}

// validateDuration checks that the field parses as a Go duration.
func validateDuration(fl validator.FieldLevel) bool {
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// validateKeyHash checks the stored key hash format: either a 64-character
// hex SHA-256 digest or an Argon2id PHC string ($argon2id$...).
func validateKeyHash(fl validator.FieldLevel) bool {
	hash := fl.Field().String()

	if strings.HasPrefix(hash, "$argon2id$") {
		return true
	}

	if len(hash) != sha256HexLength {
		return false
	}
	_, err := hex.DecodeString(hash)
	return err == nil
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error with actionable messages on failure.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field: the approval band must sit below the block line,
	// otherwise nothing can ever be held for approval.
	if c.Policy.ApprovalThreshold > c.Policy.BlockThreshold {
		return fmt.Errorf("policy: approval_threshold (%.2f) must not exceed block_threshold (%.2f)",
			c.Policy.ApprovalThreshold, c.Policy.BlockThreshold)
	}

	// Cross-field: persistent audit backends need a path.
	if (c.Audit.Backend == "sqlite" || c.Audit.Backend == "file") && c.Audit.Path == "" {
		return fmt.Errorf("audit: backend %q requires path", c.Audit.Backend)
	}

	// Cross-field: duplicate agent IDs in the key list would make
	// per-agent rate limits and audit attribution ambiguous.
	if err := c.validateUniqueAgentIDs(); err != nil {
		return err
	}

	return nil
}

// validateUniqueAgentIDs ensures each configured API key names a distinct agent.
func (c *Config) validateUniqueAgentIDs() error {
	seen := make(map[string]struct{}, len(c.Auth.APIKeys))
	for i, key := range c.Auth.APIKeys {
		if _, dup := seen[key.AgentID]; dup {
			return fmt.Errorf("auth.api_keys[%d]: duplicate agent_id: %s", i, key.AgentID)
		}
		seen[key.AgentID] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url", "uri":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration like \"30s\" or \"5m\"", field)
	case "key_hash":
		return fmt.Sprintf("%s must be a SHA-256 hex digest or an $argon2id$ hash", field)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, e.Param())
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
