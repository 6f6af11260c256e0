package archive

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kode4food/timebox"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Hibernator implements timebox.Hibernator on a gocloud.dev bucket, so
// journaled runs can be moved out of Redis once they finish
type Hibernator struct {
	bucket *blob.Bucket
	prefix string
	owned  bool
}

const (
	hibernateSeparator = "/"
	jsonContentType    = "application/json"
)

var _ timebox.Hibernator = (*Hibernator)(nil)

// NewHibernator opens the bucket at bucketURL and hibernates into it
func NewHibernator(
	ctx context.Context, bucketURL, prefix string,
) (*Hibernator, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	h := newHibernator(bucket, prefix)
	h.owned = true
	return h, nil
}

// Hibernator returns a Hibernator that shares this archive's bucket. The
// bucket stays owned by the Blob archiver
func (b *Blob) Hibernator(prefix string) *Hibernator {
	return newHibernator(b.bucket, prefix)
}

func newHibernator(bucket *blob.Bucket, prefix string) *Hibernator {
	if prefix != "" && !strings.HasSuffix(prefix, hibernateSeparator) {
		prefix += hibernateSeparator
	}
	return &Hibernator{bucket: bucket, prefix: prefix}
}

func (h *Hibernator) Get(
	ctx context.Context, id timebox.AggregateID,
) (*timebox.HibernateRecord, error) {
	data, err := h.bucket.ReadAll(ctx, h.keyFor(id))
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, timebox.ErrHibernateNotFound
		}
		return nil, err
	}

	var record timebox.HibernateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (h *Hibernator) Put(
	ctx context.Context, id timebox.AggregateID, rec *timebox.HibernateRecord,
) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return h.bucket.WriteAll(ctx, h.keyFor(id), data, &blob.WriterOptions{
		ContentType: jsonContentType,
	})
}

func (h *Hibernator) Delete(ctx context.Context, id timebox.AggregateID) error {
	err := h.bucket.Delete(ctx, h.keyFor(id))
	if err != nil && gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return err
}

// Close releases the bucket when the Hibernator opened it
func (h *Hibernator) Close() error {
	if !h.owned {
		return nil
	}
	return h.bucket.Close()
}

func (h *Hibernator) keyFor(id timebox.AggregateID) string {
	return h.prefix + id.Join(hibernateSeparator) + ".json"
}
