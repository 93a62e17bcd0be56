package minio

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/progres-go/internal/domain/embedding"
	"github.com/turtacn/progres-go/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/progres-go/pkg/errors"
)

const contentType = "application/vnd.sqlite3"

// FileStore reads and writes local database files.
type FileStore interface {
	LoadFile(ctx context.Context, path, name string) (*embedding.Database, error)
	SaveFile(ctx context.Context, path string, db *embedding.Database) error
}

// DatabaseStore implements embedding.Store for s3:// locations. Objects are
// database files; downloads are cached under cacheDir and reused while the
// object's ETag is unchanged.
type DatabaseStore struct {
	client   *MinIOClient
	files    FileStore
	cacheDir string
	logger   logging.Logger
}

var _ embedding.Store = (*DatabaseStore)(nil)

func NewDatabaseStore(client *MinIOClient, files FileStore, cacheDir string, logger logging.Logger) *DatabaseStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &DatabaseStore{client: client, files: files, cacheDir: cacheDir, logger: logger}
}

func (s *DatabaseStore) cachePath(loc embedding.Location) string {
	key := filepath.FromSlash(strings.TrimPrefix(loc.Key, "/"))
	return filepath.Join(s.cacheDir, "s3", loc.Bucket, key)
}

// Load fetches the object when the cached copy is missing or stale and
// reads it.
func (s *DatabaseStore) Load(ctx context.Context, loc embedding.Location) (*embedding.Database, error) {
	api := s.client.GetClient()
	info, err := api.StatObject(ctx, loc.Bucket, loc.Key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.DatabaseNotFound(loc.String()).WithCause(err)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "stat database object").WithDetail(loc.String())
	}

	path := s.cachePath(loc)
	etagPath := path + ".etag"
	if cached, err := os.ReadFile(etagPath); err == nil && string(cached) == info.ETag {
		if _, err := os.Stat(path); err == nil {
			s.logger.Debug("using cached database object", logging.Database(loc.String()), logging.Path(path))
			return s.files.LoadFile(ctx, path, loc.Name)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "creating cache directory").WithDetail(path)
	}
	tmp := path + ".download"
	if err := api.FGetObject(ctx, loc.Bucket, loc.Key, tmp, minio.GetObjectOptions{}); err != nil {
		os.Remove(tmp)
		if isNotFound(err) {
			return nil, errors.DatabaseNotFound(loc.String()).WithCause(err)
		}
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "downloading database object").WithDetail(loc.String())
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorage, "caching database object").WithDetail(path)
	}
	if err := os.WriteFile(etagPath, []byte(info.ETag), 0o644); err != nil {
		s.logger.Warn("could not record cache ETag", logging.Path(etagPath), logging.Err(err))
	}
	s.logger.Info("downloaded database object",
		logging.Database(loc.String()), logging.Int64("bytes", info.Size))
	return s.files.LoadFile(ctx, path, loc.Name)
}

// Save writes db to a local file and uploads it.
func (s *DatabaseStore) Save(ctx context.Context, loc embedding.Location, db *embedding.Database) error {
	if err := os.MkdirAll(s.cacheDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "creating cache directory").WithDetail(s.cacheDir)
	}
	tmp, err := os.MkdirTemp(s.cacheDir, "upload-")
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "creating upload directory")
	}
	defer os.RemoveAll(tmp)

	path := filepath.Join(tmp, filepath.Base(loc.Key))
	if err := s.files.SaveFile(ctx, path, db); err != nil {
		return err
	}
	if err := s.client.EnsureBucket(ctx, loc.Bucket); err != nil {
		return err
	}
	info, err := s.client.GetClient().FPutObject(ctx, loc.Bucket, loc.Key, path, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{"db-id": db.DBID, "model": db.Model.String()},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeStorage, "uploading database").WithDetail(loc.String())
	}
	s.logger.Info("uploaded database",
		logging.Database(loc.String()), logging.Int("entries", db.Len()), logging.Int64("bytes", info.Size))
	return nil
}
