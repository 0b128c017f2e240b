package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AnalysisHash computes the deterministic SHA-256 over the canonicalized
// run configuration. encoding/json sorts map keys and marshals struct
// fields in declaration order, so equal configs hash equally across runs
// and platforms.
func AnalysisHash(config any) (string, error) {
	canonicalized, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("canonicalize config: %w", err)
	}

	sum := sha256.Sum256(canonicalized)

	return hex.EncodeToString(sum[:]), nil
}
