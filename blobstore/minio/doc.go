// Package minio provides a blobstore.Store implementation using the MinIO client.
//
// It works with MinIO and other S3-compatible servers (Ceph, Garage,
// SeaweedFS) and needs no AWS dependencies.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	mirror := minioblob.NewStore(client, "backups", "vecstore/")
//	db, err := vecstore.Open(ctx, dir, vecstore.WithBackupMirror(mirror))
package minio
