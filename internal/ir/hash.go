package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainSeed       = "zenddiff/seed/v1"
	DomainBug        = "zenddiff/bug/v1"
	DomainStability  = "zenddiff/stability/v1"
	DomainDivergence = "zenddiff/divergence/v1"
	DomainContent    = "zenddiff/content/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SeedID computes the content-addressed ID of a seed program.
// Two seeds with the same source and name share an ID regardless of where
// they were loaded from.
func SeedID(name, source string) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"name":   name,
		"source": source,
	})
	if err != nil {
		return "", fmt.Errorf("SeedID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainSeed, canonical), nil
}

// ContentDigest hashes an arbitrary byte string. Used to fingerprint
// diverging values without storing them twice.
func ContentDigest(data []byte) string {
	return hashWithDomain(DomainContent, data)
}

// DivergenceSignature identifies a divergence independently of the run that
// produced it. Two verdicts reproduce each other iff their signatures match.
func DivergenceSignature(d Divergence) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"kind":         string(d.Kind),
		"probe_id":     d.ProbeID,
		"index":        d.Index,
		"offset":       d.Offset,
		"left_digest":  valueDigest(d.LeftDigest, d.Left),
		"right_digest": valueDigest(d.RightDigest, d.Right),
	})
	if err != nil {
		return "", fmt.Errorf("DivergenceSignature: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainDivergence, canonical), nil
}

// valueDigest prefers the digest of the full value over the excerpt.
func valueDigest(digest, excerpt string) string {
	if digest != "" {
		return digest
	}
	return ContentDigest([]byte(excerpt))
}

// BugID computes the content-addressed ID of a confirmed bug.
// The same program diverging the same way under the same pair always maps
// to the same ID, which makes recording idempotent.
func BugID(source string, pair ConfigPair, d Divergence) (string, error) {
	sig, err := DivergenceSignature(d)
	if err != nil {
		return "", err
	}
	canonical, err := MarshalCanonical(map[string]any{
		"source":    source,
		"left":      pair.Left.Name,
		"right":     pair.Right.Name,
		"signature": sig,
	})
	if err != nil {
		return "", fmt.Errorf("BugID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBug, canonical), nil
}

// StabilityID computes the content-addressed ID of a stability finding.
func StabilityID(source string, pair ConfigPair, kind StabilityKind, side Side) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"source": source,
		"left":   pair.Left.Name,
		"right":  pair.Right.Name,
		"kind":   string(kind),
		"side":   string(side),
	})
	if err != nil {
		return "", fmt.Errorf("StabilityID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainStability, canonical), nil
}

// MustSeedID is like SeedID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustSeedID(name, source string) string {
	id, err := SeedID(name, source)
	if err != nil {
		panic(err)
	}
	return id
}
