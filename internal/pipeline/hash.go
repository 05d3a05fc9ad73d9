package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed hashing.
// Version suffix enables future algorithm migration.
const (
	DomainOutput  = "cascade/output/v1"
	DomainNodeSet = "cascade/nodeset/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// OutputHash computes the content hash of a node output.
//
// This digest gates whether expensive, possibly paid, executor calls
// are skipped, so it must be cryptographic: byte-identical canonical
// serializations always produce identical digests, and distinct
// outputs must not collide. Re-execution is triggered by semantic
// change in an output, never by a mere re-save.
func OutputHash(output any) (string, error) {
	canonical, err := MarshalCanonical(output)
	if err != nil {
		return "", fmt.Errorf("output hash: %w", err)
	}
	return hashWithDomain(DomainOutput, canonical), nil
}

// MustOutputHash is like OutputHash but panics on error.
// Use only in tests or when the output is known to be hashable.
func MustOutputHash(output any) string {
	h, err := OutputHash(output)
	if err != nil {
		panic(err)
	}
	return h
}

// NodeSetHash digests a node-id set, order-independently. Audit
// entries store it so two save attempts carrying the same node set are
// recognizable without storing the full id list.
func NodeSetHash(ids []string) string {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	canonical, err := MarshalCanonical(sorted)
	if err != nil {
		// []string of valid UTF-8 cannot fail to canonicalize; an
		// invalid id is a programming error upstream.
		panic(fmt.Sprintf("node set hash: %v", err))
	}
	return hashWithDomain(DomainNodeSet, canonical)
}
