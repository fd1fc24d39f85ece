// Package checkpoint persists the single in-progress batch snapshot.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/resilience"
	"github.com/sells-group/prospect-cli/internal/vault"
)

// Key is the blob key of the batch checkpoint slot.
const Key = "checkpoint:batch"

// BlobStore is the persistence the checkpoint needs.
type BlobStore interface {
	GetBlob(ctx context.Context, key string) ([]byte, error)
	PutBlob(ctx context.Context, key string, data []byte) error
	DeleteBlob(ctx context.Context, key string) error
}

// Store saves and loads the batch checkpoint.
type Store struct {
	blobs  BlobStore
	sealer *vault.Sealer
	retry  resilience.RetryConfig
}

// New creates a checkpoint Store. A nil sealer stores plain JSON.
func New(blobs BlobStore, sealer *vault.Sealer, retry resilience.RetryConfig) *Store {
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("checkpoint.save")
	}
	return &Store{blobs: blobs, sealer: sealer, retry: retry}
}

// Save overwrites the checkpoint slot. Transient storage errors are retried.
func (s *Store) Save(ctx context.Context, cp *model.Checkpoint) error {
	var (
		data []byte
		err  error
	)
	if s.sealer != nil {
		data, err = s.sealer.Seal(cp)
	} else {
		data, err = json.Marshal(cp)
	}
	if err != nil {
		return eris.Wrap(err, "checkpoint: encode")
	}

	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.blobs.PutBlob(ctx, Key, data)
	})
	return eris.Wrap(err, "checkpoint: save")
}

// Load returns the saved checkpoint, or nil when none exists. An
// undecodable slot is reported as absent.
func (s *Store) Load(ctx context.Context) (*model.Checkpoint, error) {
	data, err := s.blobs.GetBlob(ctx, Key)
	if err != nil {
		return nil, eris.Wrap(err, "checkpoint: load")
	}
	if data == nil {
		return nil, nil
	}

	var cp model.Checkpoint
	if s.sealer != nil {
		err = s.sealer.Open(data, &cp)
		if errors.Is(err, vault.ErrDecrypt) {
			err = json.Unmarshal(data, &cp)
		}
	} else {
		err = json.Unmarshal(data, &cp)
	}
	if err != nil {
		zap.L().Warn("checkpoint: unreadable slot ignored", zap.Error(err))
		return nil, nil
	}
	return &cp, nil
}

// Clear removes the checkpoint.
func (s *Store) Clear(ctx context.Context) error {
	return eris.Wrap(s.blobs.DeleteBlob(ctx, Key), "checkpoint: clear")
}
