package archive

import (
	"context"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// Blob archives snapshots as JSON objects using gocloud.dev/blob,
// supporting S3, GCS, Azure Blob Storage, local files, and memory
type Blob struct {
	bucket *blob.Bucket
	prefix string
}

var _ Archiver = (*Blob)(nil)

// NewBlob opens the bucket at bucketURL (s3://, gs://, azblob://,
// file://, or mem://)
func NewBlob(ctx context.Context, bucketURL, prefix string) (*Blob, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	return NewBlobWithBucket(bucket, prefix), nil
}

// NewBlobWithBucket archives into an open bucket, which the Blob archiver
// takes ownership of
func NewBlobWithBucket(bucket *blob.Bucket, prefix string) *Blob {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Blob{bucket: bucket, prefix: prefix}
}

func (b *Blob) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	return b.bucket.WriteAll(ctx, b.keyFor(snap.RunID), data, &blob.WriterOptions{
		ContentType: jsonContentType,
	})
}

func (b *Blob) Load(ctx context.Context, runID string) (*Snapshot, error) {
	data, err := b.bucket.ReadAll(ctx, b.keyFor(runID))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(data)
}

func (b *Blob) Delete(ctx context.Context, runID string) error {
	err := b.bucket.Delete(ctx, b.keyFor(runID))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

func (b *Blob) Close() error {
	return b.bucket.Close()
}

func (b *Blob) keyFor(runID string) string {
	return b.prefix + runID + ".json"
}
