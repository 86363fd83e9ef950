package reliability

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

// Checkpointer is the subset of persistence.Store the backup service
// needs: a way to flush the WAL before copying the file, and the file's
// path.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
	Path() string
}

// BackupService snapshots a Checkpointer's database file and uploads it
// to an S3-compatible bucket under a timestamped key.
type BackupService struct {
	client Checkpointer
	s3     *S3Client
	prefix string
	log    zerolog.Logger
}

// NewBackupService builds a BackupService uploading store's file via s3,
// keyed under prefix (e.g. the engine UID).
func NewBackupService(store Checkpointer, s3 *S3Client, prefix string, log zerolog.Logger) *BackupService {
	return &BackupService{
		client: store,
		s3:     s3,
		prefix: prefix,
		log:    log.With().Str("service", "backup").Logger(),
	}
}

// Run checkpoints the database and uploads a snapshot. Failure is logged
// by the caller's scheduler job and never treated as fatal.
func (b *BackupService) Run(ctx context.Context, stamp string) error {
	if err := b.client.Checkpoint(ctx); err != nil {
		return fmt.Errorf("reliability: checkpoint before backup: %w", err)
	}

	file, err := os.Open(b.client.Path())
	if err != nil {
		return fmt.Errorf("reliability: open database file: %w", err)
	}
	defer file.Close()

	key := fmt.Sprintf("%s/%s.sqlite", b.prefix, stamp)
	return b.s3.Upload(ctx, key, file)
}
