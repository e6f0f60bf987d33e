package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agent-warden/warden/internal/domain/auth"
)

var keygenArgon bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an agent API key and its hashes",
	Long: `Generate a new agent API key and print the hashes for config.

The plaintext key (agent_sk_...) goes to the agent; the hash goes into the
auth.api_keys.key_hash field of warden.yaml. The SHA-256 hash gives
constant-time lookup; pass --argon2id for a memory-hard hash instead
(slower to verify, resistant to offline brute force of the hash).

The plaintext key is printed once and cannot be recovered. Store it now.

Examples:
  warden keygen
  warden keygen --argon2id`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().BoolVar(&keygenArgon, "argon2id", false, "print an Argon2id hash instead of SHA-256")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	plaintext, sha256Hash, err := auth.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	hash := sha256Hash
	if keygenArgon {
		hash, err = auth.HashKeyArgon2id(plaintext)
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "Store the API key now; it cannot be recovered.\n\n")
	fmt.Printf("API key:  %s\n", plaintext)
	fmt.Printf("Key hash: %s\n\n", hash)
	fmt.Printf("Config snippet:\n")
	fmt.Printf("  auth:\n")
	fmt.Printf("    api_keys:\n")
	fmt.Printf("      - agent_id: my-agent\n")
	fmt.Printf("        key_hash: \"%s\"\n", hash)
	return nil
}
