// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	mirror, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("vecstore/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	db, err := vecstore.Open(ctx, dir, vecstore.WithBackupMirror(mirror))
//
// # Features
//
//   - Multipart uploads for large pages
//   - CRC32C integrity checksums on upload
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
