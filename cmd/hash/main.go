// Package main prints the stored digest of an API key for seeding or support lookups.
// With no argument it generates a fresh key for the requested environment; with a key
// argument it hashes that key instead. The pepper is read from the server configuration
// (AKP_AUTH_API_KEYS_PEPPER or CONFIG_PATH), so the digest matches what the server computes.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rnblock/api-key-provider/internal/auth"
	"github.com/rnblock/api-key-provider/internal/config"
)

func main() {
	environment := flag.String("env", auth.EnvironmentTest, "key environment when generating: production or test")
	printSQL := flag.Bool("sql", false, "print an UPDATE statement for the api_keys row identified by -id")
	keyID := flag.String("id", "", "api_keys.id used with -sql")
	flag.Parse()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	key := flag.Arg(0)
	if key == "" {
		key, err = auth.GenerateAPIKey(*environment)
		if err != nil {
			log.Fatalf("Failed to generate key: %v", err)
		}
		fmt.Printf("Generated key (shown once): %s\n", key)
	} else if !auth.IsValidAPIKeyFormat(key) {
		log.Fatalf("Not an API key: %s", auth.MaskAPIKey(key))
	}

	digest, err := auth.NewKeyHasher(cfg.Auth.APIKeys.Pepper).Hash(key)
	if err != nil {
		log.Fatalf("Failed to hash key: %v", err)
	}

	prefix, _ := auth.PrefixForEnvironment(auth.EnvironmentFromKey(key))
	fmt.Printf("Masked:  %s\n", auth.MaskAPIKey(key))
	fmt.Printf("Prefix:  %s\n", prefix)
	fmt.Printf("Hint:    %s\n", auth.KeyHint(key))
	fmt.Printf("Digest:  %s\n", digest)

	if *printSQL {
		if *keyID == "" {
			log.Fatal("-sql requires -id")
		}
		fmt.Printf("\nUPDATE api_keys SET key_hash = '%s', key_prefix = '%s', key_hint = '%s', updated_at = NOW() WHERE id = '%s';\n",
			digest, prefix, auth.KeyHint(key), *keyID)
	}
}
