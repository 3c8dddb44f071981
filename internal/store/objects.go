package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"kerrokantasi/api/internal/media"
)

// ObjectStorage keeps media payloads in the media_objects table. It is used
// when no external object store is configured.
type ObjectStorage struct {
	store *PostgresStore
}

func (s *PostgresStore) Objects() *ObjectStorage {
	return &ObjectStorage{store: s}
}

func (o *ObjectStorage) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := o.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO media_objects(key, content_type, data) VALUES($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET content_type=EXCLUDED.content_type, data=EXCLUDED.data
	`, key, contentType, data)
	if err != nil {
		return fmt.Errorf("put media object %s: %w", key, err)
	}
	return nil
}

func (o *ObjectStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := o.store.conn(ctx).QueryRowContext(ctx, `SELECT data FROM media_objects WHERE key=$1`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.ErrObjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get media object %s: %w", key, err)
	}
	return data, nil
}

func (o *ObjectStorage) Copy(ctx context.Context, srcKey, dstKey string) error {
	result, err := o.store.conn(ctx).ExecContext(ctx, `
		INSERT INTO media_objects(key, content_type, data)
		SELECT $2, content_type, data FROM media_objects WHERE key=$1
		ON CONFLICT (key) DO UPDATE SET content_type=EXCLUDED.content_type, data=EXCLUDED.data
	`, srcKey, dstKey)
	if err != nil {
		return fmt.Errorf("copy media object %s: %w", srcKey, err)
	}
	if ok, err := affected(result); err == nil && !ok {
		return media.ErrObjectNotFound
	}
	return nil
}

func (o *ObjectStorage) Delete(ctx context.Context, key string) error {
	if _, err := o.store.conn(ctx).ExecContext(ctx, `DELETE FROM media_objects WHERE key=$1`, key); err != nil {
		return fmt.Errorf("delete media object %s: %w", key, err)
	}
	return nil
}
