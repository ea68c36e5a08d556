// Package artifacts stores audit export files.
//
// FileSystemStore writes artifacts to a local directory with a metadata file
// recording the content type and expiry, and can purge expired exports.
// S3Store uploads artifacts to a bucket and returns presigned download URLs
// that stay valid until the export expires.
//
// Both implement audit.ArtifactStore:
//
//	store, err := artifacts.NewS3Store(ctx, artifacts.S3Config{Bucket: "audit-exports", Region: "us-east-1"})
//	svc := audit.NewService(events, cfg, audit.WithArtifactStore(store))
package artifacts
