package service

import (
	"context"
	"path/filepath"
	"sync/atomic"

	"github.com/minio/minio-go/v7"

	commonlog "sim_server/server/common/log"
	"sim_server/server/simsearch/index"
)

// SnapshotStore mirrors the on-disk index artifacts into an object-storage
// bucket every N appends and on shutdown. Uploads are best-effort: the
// local artifacts remain the warm-restart source of truth, the bucket only
// covers host loss.
type SnapshotStore struct {
	client  *minio.Client
	bucket  string
	index   *index.Index
	every   int64
	appends atomic.Int64
}

func NewSnapshotStore(client *minio.Client, bucket string, ix *index.Index, every int) *SnapshotStore {
	if every <= 0 {
		every = 100
	}
	return &SnapshotStore{client: client, bucket: bucket, index: ix, every: int64(every)}
}

// NoteAppend records one append and uploads when the interval elapses.
func (s *SnapshotStore) NoteAppend(ctx context.Context) {
	if s.appends.Add(1)%s.every != 0 {
		return
	}
	if err := s.Upload(ctx); err != nil {
		commonlog.Warnf("event=index_snapshot status=failed error=%v", err)
	}
}

// Upload copies both artifacts to the bucket. The blob goes first, matching
// the local write order, so a snapshot can never hold a mapping referencing
// vectors its blob lacks.
func (s *SnapshotStore) Upload(ctx context.Context) error {
	blobPath, mappingPath := s.index.ArtifactPaths()
	for _, path := range []string{blobPath, mappingPath} {
		objectName := filepath.Base(path)
		if _, err := s.client.FPutObject(ctx, s.bucket, objectName, path, minio.PutObjectOptions{}); err != nil {
			return err
		}
	}
	commonlog.Infof("event=index_snapshot status=ok bucket=%s size=%d", s.bucket, s.index.Size())
	return nil
}
