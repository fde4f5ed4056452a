package avif

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oittaa/avif-converter/cache"
	"github.com/oittaa/avif-converter/convert"
	"github.com/oittaa/avif-converter/digest"
	"github.com/oittaa/avif-converter/internal/testutil"
)

// fakeConverter deterministically transforms its input so tests can tell
// converted bytes from source bytes.
type fakeConverter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *fakeConverter) Convert(_ context.Context, input []byte, _ string, opts convert.Options) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return fmt.Appendf(nil, "avif(%s,q=%d)", input, opts.Quality), nil
}

func (c *fakeConverter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeFetcher serves canned bodies by URL.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	calls  int
	err    error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, "", fmt.Errorf("no canned body for %s", url)
	}
	return body, "image/png", nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestResolver(t *testing.T, store cache.BlobStore, opts ...ResolverOption) (*Resolver, *fakeConverter, *fakeFetcher) {
	t.Helper()
	conv := &fakeConverter{}
	fetcher := &fakeFetcher{bodies: make(map[string][]byte)}
	cc := cache.NewContentCache(store)
	r := NewResolver(cc, conv, append([]ResolverOption{WithFetcher(fetcher)}, opts...)...)
	return r, conv, fetcher
}

func TestResolveBytesFirstCall(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, _ := newTestResolver(t, store)

	source := []byte("source image bytes")
	result, err := r.Resolve(t.Context(), Source{Data: source, Name: "pic.png"}, convert.Options{})
	require.NoError(t, err)

	// The fingerprint is the digest of the source bytes mixed with the
	// canonical options encoding.
	wantFP := digest.SumBytes(source, convert.Options{}.Canonical())
	assert.Equal(t, wantFP, result.Fingerprint)
	assert.Equal(t, CacheReference, result.Kind)

	// The stored artifact is the converted output under the suffixed key.
	stored, found, err := store.Get(t.Context(), ArtifactKey(wantFP))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte(fmt.Sprintf("avif(%s,q=%d)", source, convert.DefaultQuality)), stored)
	assert.Equal(t, DefaultTTL, store.LastTTL[ArtifactKey(wantFP)])
	assert.Equal(t, 1, conv.callCount())
}

func TestResolveCrossLocatorDeduplication(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, fetcher := newTestResolver(t, store)

	// Two distinct locators serving byte-identical content.
	body := []byte("identical content")
	fetcher.bodies["https://a.example/pic.png"] = body
	fetcher.bodies["https://b.example/other.png"] = body

	first, err := r.Resolve(t.Context(), Source{URL: "https://a.example/pic.png"}, convert.Options{})
	require.NoError(t, err)
	second, err := r.Resolve(t.Context(), Source{URL: "https://b.example/other.png"}, convert.Options{})
	require.NoError(t, err)

	// Distinct request fingerprints, same content fingerprint, and the
	// second request never converted.
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, 1, conv.callCount())
	assert.Equal(t, 2, fetcher.callCount())
}

func TestResolveIndirectionHitSkipsFetch(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, fetcher := newTestResolver(t, store)

	const url = "https://example.com/pic.png"
	fetcher.bodies[url] = []byte("the image")

	first, err := r.Resolve(t.Context(), Source{URL: url}, convert.Options{})
	require.NoError(t, err)

	second, err := r.Resolve(t.Context(), Source{URL: url}, convert.Options{})
	require.NoError(t, err)

	// The repeat request resolved entirely through the indirection
	// record: no second fetch, no second conversion.
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, CacheReference, second.Kind)
	assert.Equal(t, 1, fetcher.callCount())
	assert.Equal(t, 1, conv.callCount())
}

func TestResolveStalePointerRecovery(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, fetcher := newTestResolver(t, store)

	const url = "https://example.com/pic.png"
	fetcher.bodies[url] = []byte("the image")

	// Indirection record pointing at an artifact that no longer exists.
	requestKey := string(digest.SumBytes([]byte(url), convert.Options{}.Canonical()))
	danglingKey := ArtifactKey(digest.SumBytes([]byte("evicted artifact"), convert.Options{}.Canonical()))
	store.Seed(requestKey, []byte(danglingKey))

	result, err := r.Resolve(t.Context(), Source{URL: url}, convert.Options{})
	require.NoError(t, err)
	assert.Equal(t, CacheReference, result.Kind)
	assert.Equal(t, 1, conv.callCount(), "stale pointer must fall through to a fresh conversion")

	// The indirection record was repaired to point at the new artifact.
	repaired, found, err := store.Get(t.Context(), requestKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ArtifactKey(result.Fingerprint), string(repaired))
}

func TestResolveMalformedIndirectionRecord(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, fetcher := newTestResolver(t, store)

	const url = "https://example.com/pic.png"
	fetcher.bodies[url] = []byte("the image")

	requestKey := string(digest.SumBytes([]byte(url), convert.Options{}.Canonical()))
	store.Seed(requestKey, []byte("not an artifact key"))

	result, err := r.Resolve(t.Context(), Source{URL: url}, convert.Options{})
	require.NoError(t, err)
	assert.Equal(t, CacheReference, result.Kind)
	assert.Equal(t, 1, conv.callCount())
}

func TestResolveDegradeToNoCache(t *testing.T) {
	t.Parallel()

	r, conv, _ := newTestResolver(t, nil)

	source := []byte("uncached source")
	first, err := r.Resolve(t.Context(), Source{Data: source}, convert.Options{})
	require.NoError(t, err)
	second, err := r.Resolve(t.Context(), Source{Data: source}, convert.Options{})
	require.NoError(t, err)

	// Without a store every call converts fresh and serves inline.
	assert.Equal(t, InlineBytes, first.Kind)
	assert.Equal(t, InlineBytes, second.Kind)
	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Bytes, second.Bytes)
	assert.NotEmpty(t, first.Bytes)
	assert.Equal(t, 2, conv.callCount())
}

func TestResolveQualityChangesFingerprint(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, _ := newTestResolver(t, store)

	source := []byte("same bytes")
	at80, err := r.Resolve(t.Context(), Source{Data: source}, convert.Options{Quality: 80})
	require.NoError(t, err)
	at85, err := r.Resolve(t.Context(), Source{Data: source}, convert.Options{Quality: 85})
	require.NoError(t, err)

	assert.NotEqual(t, at80.Fingerprint, at85.Fingerprint)
	assert.Equal(t, 2, conv.callCount())
}

func TestResolveDefaultQualityEquivalence(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, _ := newTestResolver(t, store)

	source := []byte("same bytes")
	implicit, err := r.Resolve(t.Context(), Source{Data: source}, convert.Options{})
	require.NoError(t, err)
	explicit, err := r.Resolve(t.Context(), Source{Data: source}, convert.Options{Quality: convert.DefaultQuality})
	require.NoError(t, err)

	// An absent option and the explicit default are the same request:
	// the second call is a pure cache hit.
	assert.Equal(t, implicit.Fingerprint, explicit.Fingerprint)
	assert.Equal(t, 1, conv.callCount())
}

func TestResolveArtifactWriteFailureServesInline(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	store.PutErr = errors.New("bucket quota exceeded")
	r, conv, _ := newTestResolver(t, store)

	source := []byte("source bytes")
	result, err := r.Resolve(t.Context(), Source{Data: source}, convert.Options{})
	require.NoError(t, err, "a cache-write failure must never fail the request")

	assert.Equal(t, InlineBytes, result.Kind)
	assert.NotEmpty(t, result.Bytes)
	assert.Equal(t, digest.SumBytes(source, convert.Options{}.Canonical()), result.Fingerprint)
	assert.Equal(t, 1, conv.callCount())
}

func TestResolveIndirectionWriteFailureIgnored(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, _, fetcher := newTestResolver(t, store)

	const url = "https://example.com/pic.png"
	fetcher.bodies[url] = []byte("the image")

	requestKey := string(digest.SumBytes([]byte(url), convert.Options{}.Canonical()))
	store.FailPutKey(requestKey, errors.New("transient"))

	result, err := r.Resolve(t.Context(), Source{URL: url}, convert.Options{})
	require.NoError(t, err)
	assert.Equal(t, CacheReference, result.Kind)

	// The artifact itself was stored despite the lost indirection write.
	found, err := store.Exists(t.Context(), ArtifactKey(result.Fingerprint))
	require.NoError(t, err)
	assert.True(t, found)
}

func TestResolveConverterFailure(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, _ := newTestResolver(t, store)
	conv.err = errors.New("unsupported format")

	_, err := r.Resolve(t.Context(), Source{Data: []byte("not an image")}, convert.Options{})
	require.ErrorIs(t, err, ErrConversionFailed)
	assert.Equal(t, 0, store.Len(), "no store writes after a failed conversion")
}

func TestResolveFetchFailurePropagates(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, conv, fetcher := newTestResolver(t, store)
	fetchErr := errors.New("connection refused")
	fetcher.err = fetchErr

	_, err := r.Resolve(t.Context(), Source{URL: "https://example.com/pic.png"}, convert.Options{})
	require.ErrorIs(t, err, fetchErr)
	assert.Equal(t, 0, conv.callCount())
}

func TestResolveInvalidInput(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, _, _ := newTestResolver(t, store)

	tests := []struct {
		name string
		src  Source
		opts convert.Options
	}{
		{"empty source", Source{}, convert.Options{}},
		{"bad scheme", Source{URL: "ftp://example.com/pic.png"}, convert.Options{}},
		{"quality too high", Source{Data: []byte("x")}, convert.Options{Quality: 101}},
		{"quality negative", Source{Data: []byte("x")}, convert.Options{Quality: -3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := r.Resolve(t.Context(), tt.src, tt.opts)
			require.ErrorIs(t, err, ErrInvalidInput)
		})
	}
	assert.Equal(t, 0, store.Len(), "invalid input must be rejected before any store interaction")
}

func TestResolveURLWithoutFetcher(t *testing.T) {
	t.Parallel()

	cc := cache.NewContentCache(testutil.NewMockStore())
	r := NewResolver(cc, &fakeConverter{})

	_, err := r.Resolve(t.Context(), Source{URL: "https://example.com/pic.png"}, convert.Options{})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestArtifactKeyRoundTrip(t *testing.T) {
	t.Parallel()

	fp := digest.SumBytes([]byte("anything"))
	key := ArtifactKey(fp)
	assert.Equal(t, string(fp)+".avif", key)

	parsed, ok := ParseArtifactKey(key)
	require.True(t, ok)
	assert.Equal(t, fp, parsed)

	for _, s := range []string{"", "foo.avif", string(fp), string(fp) + ".png", "x" + string(fp) + ".avif"} {
		_, ok := ParseArtifactKey(s)
		assert.False(t, ok, "ParseArtifactKey(%q) accepted invalid key", s)
	}
}

func TestResultPathAndETag(t *testing.T) {
	t.Parallel()

	fp := digest.SumBytes([]byte("artifact"))
	result := &Result{Kind: CacheReference, Fingerprint: fp}

	assert.Equal(t, "/"+string(fp)+".avif", result.Path())
	assert.Equal(t, `"`+string(fp)+`"`, result.ETag())
}

func TestResolveConcurrentIdenticalRequests(t *testing.T) {
	t.Parallel()

	store := testutil.NewMockStore()
	r, _, fetcher := newTestResolver(t, store)

	const url = "https://example.com/pic.png"
	fetcher.bodies[url] = []byte("racing content")

	const flows = 8
	results := make([]*Result, flows)
	errs := make([]error, flows)

	var wg sync.WaitGroup
	for i := range flows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = r.Resolve(context.Background(), Source{URL: url}, convert.Options{})
		}()
	}
	wg.Wait()

	// Content addressing makes concurrent identical requests idempotent:
	// every flow lands on the same fingerprint without cross-request
	// locking.
	for i := range flows {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Fingerprint, results[i].Fingerprint)
	}
	found, err := store.Exists(context.Background(), ArtifactKey(results[0].Fingerprint))
	require.NoError(t, err)
	assert.True(t, found)
}
