// Package panel serves the guest dashboard as an embedded asset.
//
// The dashboard (web/) is a single page that lists guests from
// /api/guests/events and sends scores through /api/score. It is embedded
// into the binary with go:embed, so the gateway has no runtime dependency on
// external files.
//
// Handler serves the assets with SPA fallback routing: a path with no
// matching file gets index.html. A precompressed "<asset>.gz" next to an
// asset is preferred for clients that accept gzip.
package panel
