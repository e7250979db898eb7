package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// checksumExt is appended to the config path to form the integrity sidecar.
const checksumExt = ".checksums"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// WriteChecksum records the file's current hash into its sidecar. Run after
// deliberate config edits ("config lock").
func WriteChecksum(configPath string) (string, error) {
	hash, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return "", err
	}
	sidecar := configPath + checksumExt
	if err := os.WriteFile(sidecar, []byte(hash+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write checksum sidecar: %w", err)
	}
	return hash, nil
}

// VerifyChecksum compares the file against its sidecar, if one exists. A
// missing sidecar is not an error; a hash mismatch is.
func VerifyChecksum(configPath string) error {
	sidecar := configPath + checksumExt
	expected, err := os.ReadFile(sidecar)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read checksum sidecar: %w", err)
	}

	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if actual != strings.TrimSpace(string(expected)) {
		return fmt.Errorf("hash mismatch for %s: config changed since it was locked; re-run 'config lock' to accept the edit",
			filepath.Base(configPath))
	}
	return nil
}
