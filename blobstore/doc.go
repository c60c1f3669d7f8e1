// Package blobstore provides the remote mirror targets for database backups.
//
// A Store is a flat, slash-separated key/value namespace. Backups are written
// under "backup_<timestamp>/<file>" so a single bucket or directory can hold
// several generations.
//
// # Built-in Implementations
//
//   - LocalStore: a directory on the local (or mounted) file system
//   - MemoryStore: in-memory, for tests
//   - minio.Store: MinIO and other S3-compatible servers
//   - s3.Store: Amazon S3 with multipart uploads
package blobstore
