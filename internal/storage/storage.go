package storage

import (
	"context"
	"errors"
)

var ErrUnknownRef = errors.New("image reference does not belong to this store")

// ImageStore persists processed item images and hands back the reference stored on the item.
type ImageStore interface {
	Save(ctx context.Context, name string, data []byte) (ref string, err error)
	Delete(ctx context.Context, ref string) error
}
