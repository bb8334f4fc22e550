// Package dedup rejects logically-equivalent repeat requests. A fingerprint
// is a digest of the normalized request tuple; stores remember fingerprints
// within a capacity/TTL window.
package dedup

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Deduplicator ties a fingerprinter to a store.
type Deduplicator struct {
	fp    *Fingerprinter
	store Store
	log   zerolog.Logger
}

// NewDeduplicator builds a deduplicator. A nil fingerprinter gets the default
// config; a nil store gets an unbounded-ish memory store.
func NewDeduplicator(fp *Fingerprinter, store Store, log zerolog.Logger) *Deduplicator {
	if fp == nil {
		fp = NewFingerprinter(DefaultFingerprinterConfig())
	}
	if store == nil {
		store = NewMemoryStore(0, 0)
	}
	return &Deduplicator{fp: fp, store: store, log: log}
}

// Fingerprint exposes the underlying fingerprinter.
func (d *Deduplicator) Fingerprint(method, rawURL string, headers map[string]string, body map[string]any) string {
	return d.fp.Fingerprint(method, rawURL, headers, body)
}

// IsDuplicate reports whether fp was already remembered.
func (d *Deduplicator) IsDuplicate(ctx context.Context, fp string) bool {
	return d.store.Seen(ctx, fp)
}

// Remember records fp with its metadata.
func (d *Deduplicator) Remember(ctx context.Context, fp string, meta Metadata) {
	d.store.Remember(ctx, fp, meta)
}

// ShouldSkip fingerprints the request, reports whether it is a repeat, and
// remembers it when it is not.
func (d *Deduplicator) ShouldSkip(ctx context.Context, method, rawURL string, headers map[string]string, body map[string]any) bool {
	fp := d.fp.Fingerprint(method, rawURL, headers, body)
	if d.store.Seen(ctx, fp) {
		d.log.Debug().Str("url", rawURL).Msg("duplicate request skipped")
		return true
	}
	d.store.Remember(ctx, fp, Metadata{
		"url":       rawURL,
		"method":    method,
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
	})
	return false
}

// Size returns the number of remembered fingerprints.
func (d *Deduplicator) Size(ctx context.Context) int {
	return d.store.Len(ctx)
}

// Clear forgets everything.
func (d *Deduplicator) Clear(ctx context.Context) {
	d.store.Clear(ctx)
}
