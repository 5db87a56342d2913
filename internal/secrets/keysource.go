package secrets

import (
	"fmt"
	"os"
	"strings"
)

// MasterKeyEnv is the environment variable consulted when the config
// does not carry an inline master key.
const MasterKeyEnv = "REPORTDECK_MASTER_KEY"

// LoadMasterKey resolves the vault master key: an inline config value
// wins, then the environment, then an optional key file path.
func LoadMasterKey(inline, filePath string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	if v := os.Getenv(MasterKeyEnv); v != "" {
		return v, nil
	}
	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from validated config
		if err != nil {
			return "", fmt.Errorf("read master key file: %w", err)
		}
		key := strings.TrimSpace(string(data))
		if key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no master key: set %s or configure crypto.key_file", MasterKeyEnv)
}
