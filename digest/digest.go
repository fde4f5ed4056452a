// Package digest derives the fingerprints used as cache keys.
//
// A Fingerprint is the lowercase hex encoding of a SHA-256 digest over a
// byte source, optionally mixed with extra byte slices (such as the
// canonical encoding of conversion options). Fingerprints are pure
// functions of their inputs: equal inputs always produce equal
// fingerprints, across calls and across processes.
package digest

import (
	"fmt"
	"io"

	ocidigest "github.com/opencontainers/go-digest"
)

// Fingerprint is a 64-character lowercase hex SHA-256 digest.
type Fingerprint string

// hexLen is the encoded length of a SHA-256 digest.
const hexLen = 64

// copyBufSize bounds the memory used when hashing streamed sources.
const copyBufSize = 128 * 1024

// String returns the fingerprint's hex form.
func (f Fingerprint) String() string { return string(f) }

// Valid reports whether f has the shape of an encoded SHA-256 digest.
func (f Fingerprint) Valid() bool {
	if len(f) != hexLen {
		return false
	}
	for _, c := range f {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Parse validates s as a fingerprint.
func Parse(s string) (Fingerprint, bool) {
	f := Fingerprint(s)
	return f, f.Valid()
}

// Sum computes the fingerprint of r, then any mix slices in order.
//
// The source is consumed in fixed-size chunks; arbitrarily large inputs
// never need to be resident in memory. The only failure mode is a read
// error from r, which is returned unchanged.
func Sum(r io.Reader, mix ...[]byte) (Fingerprint, error) {
	digester := ocidigest.SHA256.Digester()
	if _, err := io.CopyBuffer(digester.Hash(), r, make([]byte, copyBufSize)); err != nil {
		return "", fmt.Errorf("digest source: %w", err)
	}
	for _, m := range mix {
		digester.Hash().Write(m)
	}
	return Fingerprint(digester.Digest().Encoded()), nil
}

// SumBytes computes the fingerprint of b, then any mix slices in order.
func SumBytes(b []byte, mix ...[]byte) Fingerprint {
	digester := ocidigest.SHA256.Digester()
	digester.Hash().Write(b)
	for _, m := range mix {
		digester.Hash().Write(m)
	}
	return Fingerprint(digester.Digest().Encoded())
}
