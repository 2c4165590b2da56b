package storage

import (
	"context"
	"encoding/json"
	"errors"

	apperrors "github.com/faveindex/internal/errors"
	"github.com/faveindex/internal/models"
)

type watermarkBlob struct {
	IDs []string `json:"ids"`
}

// WatermarkStore persists each user's watermark as one JSON blob keyed by
// the user's external id
type WatermarkStore struct {
	blobs BlobStore
}

// NewWatermarkStore creates a watermark store over blobs
func NewWatermarkStore(blobs BlobStore) *WatermarkStore {
	return &WatermarkStore{blobs: blobs}
}

// Load reads the user's watermark. A user that was never indexed gets an
// empty watermark.
func (s *WatermarkStore) Load(ctx context.Context, userID string) (*models.Watermark, error) {
	data, err := s.blobs.Get(ctx, watermarkKey(userID))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return models.NewWatermark(userID, nil), nil
		}
		return nil, apperrors.NewStoreError("load watermark", err)
	}

	var blob watermarkBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, apperrors.NewStoreError("decode watermark", err)
	}
	return models.NewWatermark(userID, blob.IDs), nil
}

// Save replaces the stored watermark with wm
func (s *WatermarkStore) Save(ctx context.Context, wm *models.Watermark) error {
	ids := wm.IDs()
	if ids == nil {
		ids = []string{}
	}
	data, err := json.Marshal(watermarkBlob{IDs: ids})
	if err != nil {
		return apperrors.NewStoreError("encode watermark", err)
	}
	if err := s.blobs.Put(ctx, watermarkKey(wm.UserID), data); err != nil {
		return apperrors.NewStoreError("save watermark", err)
	}
	return nil
}

// Delete removes the user's watermark
func (s *WatermarkStore) Delete(ctx context.Context, userID string) error {
	if err := s.blobs.Delete(ctx, watermarkKey(userID)); err != nil {
		return apperrors.NewStoreError("delete watermark", err)
	}
	return nil
}

func watermarkKey(userID string) string {
	return models.ExternalID(userID)
}
