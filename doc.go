// Package avif converts arbitrary source images to AVIF and avoids
// redoing identical conversions by content-addressing the results in a
// remote blob store.
//
// The core is a two-level content-addressed cache. Artifacts are stored
// under a content fingerprint derived from the source bytes and the
// conversion options; an advisory indirection record maps a request
// fingerprint (derived from the source URL) to the artifact key, letting
// repeat requests skip both the fetch and the conversion. A bounded
// in-process accelerator fronts the remote store.
//
// # Quick Start
//
// Resolve a URL against a GCS-backed cache:
//
//	store, err := gcs.New(ctx, "my-bucket")
//	if err != nil {
//	    return err
//	}
//	cc := cache.NewContentCache(store)
//	r := avif.NewResolver(cc, convert.NewMagick())
//	result, err := r.Resolve(ctx, avif.Source{URL: imageURL}, convert.Options{})
//
// A Result is either a reference to an already-stored artifact or the
// freshly converted bytes; Result.Fingerprint identifies the artifact
// either way and doubles as its entity tag.
//
// Without a configured store the resolver still works: every request
// converts fresh and returns inline bytes. A cache outage is never a
// conversion outage.
package avif
