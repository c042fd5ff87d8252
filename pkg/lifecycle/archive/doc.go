// Package archive stores a JSON manifest of every index before it is
// deleted. Manifests land at "<prefix>/<stream>/<index>.json" on the local
// filesystem, in a MinIO bucket or in an S3 bucket.
package archive
