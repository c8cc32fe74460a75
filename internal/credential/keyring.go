package credential

import (
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "otpfwd"

// Credential keys stored in the system keyring, with the environment
// variable consulted as a fallback when the keyring has no entry.
const (
	KeySourceEmail    = "source_email"
	KeySourcePassword = "source_password"
	KeyTelegramToken  = "telegram_token"
)

// envFallbacks maps credential keys to their environment variable names.
var envFallbacks = map[string]string{
	KeySourceEmail:    "IVASMS_EMAIL",
	KeySourcePassword: "IVASMS_PASSWORD",
	KeyTelegramToken:  "TELEGRAM_TOKEN",
}

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/otpfwd/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("otpfwd-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Get retrieves a credential by key. The system keyring is tried first;
// if it has no entry, the corresponding environment variable is used.
// An empty result from both is an error: the daemon cannot run without
// its source and bot credentials.
func Get(key string) (string, error) {
	ring, err := openKeyring()
	if err == nil {
		if item, kerr := ring.Get(key); kerr == nil && len(item.Data) > 0 {
			return string(item.Data), nil
		}
	}

	if env, ok := envFallbacks[key]; ok {
		if val := os.Getenv(env); val != "" {
			return val, nil
		}
	}

	return "", fmt.Errorf("credential %q not found in keyring or environment", key)
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:  key,
		Data: []byte(value),
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openKeyring()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
