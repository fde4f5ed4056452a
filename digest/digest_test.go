package digest

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumMatchesSHA256(t *testing.T) {
	t.Parallel()

	data := []byte("hello avif")
	want := sha256.Sum256(data)

	got, err := Sum(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(hex.EncodeToString(want[:])), got)
	assert.True(t, got.Valid())
}

func TestSumDeterministic(t *testing.T) {
	t.Parallel()

	data := []byte("same input")
	opts := []byte("q=50")

	first, err := Sum(bytes.NewReader(data), opts)
	require.NoError(t, err)
	second, err := Sum(bytes.NewReader(data), opts)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, first, SumBytes(data, opts))
}

func TestSumMixChangesFingerprint(t *testing.T) {
	t.Parallel()

	data := []byte("payload")

	plain := SumBytes(data)
	mixed := SumBytes(data, []byte("q=80"))
	other := SumBytes(data, []byte("q=85"))

	assert.NotEqual(t, plain, mixed)
	assert.NotEqual(t, mixed, other)
}

func TestSumMixEqualsConcatenation(t *testing.T) {
	t.Parallel()

	// Mixing appends to the hash input; the fingerprint must equal the
	// digest of the concatenated bytes.
	assert.Equal(t, SumBytes([]byte("abc"), []byte("def")), SumBytes([]byte("abcdef")))
}

func TestSumLargeStream(t *testing.T) {
	t.Parallel()

	// Larger than the internal copy buffer to exercise chunked hashing.
	data := bytes.Repeat([]byte{0xAB}, 3*copyBufSize+17)

	streamed, err := Sum(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, SumBytes(data), streamed)
}

func TestSumReadError(t *testing.T) {
	t.Parallel()

	readErr := errors.New("truncated upload")
	_, err := Sum(io.MultiReader(strings.NewReader("partial"), failingReader{readErr}))
	require.ErrorIs(t, err, readErr)
}

func TestNoCollisionsOverCorpus(t *testing.T) {
	t.Parallel()

	seen := make(map[Fingerprint][]byte)
	for i := range 256 {
		data := make([]byte, 64+i)
		_, err := rand.Read(data)
		require.NoError(t, err)

		fp := SumBytes(data)
		if prev, ok := seen[fp]; ok {
			require.Equal(t, prev, data, "distinct payloads mapped to the same fingerprint")
		}
		seen[fp] = data
	}
	// A few structured near-misses on top of the random corpus.
	for i := range 64 {
		fp := SumBytes(fmt.Appendf(nil, "payload-%d", i))
		_, exists := seen[fp]
		require.False(t, exists)
		seen[fp] = nil
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	valid := strings.Repeat("ab", 32)
	fp, ok := Parse(valid)
	assert.True(t, ok)
	assert.Equal(t, valid, fp.String())

	for _, s := range []string{
		"",
		"abc",
		strings.Repeat("g", 64),
		strings.Repeat("AB", 32),
		valid + "00",
	} {
		_, ok := Parse(s)
		assert.False(t, ok, "Parse(%q) accepted invalid input", s)
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }
