package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/sony/gobreaker"

	"github.com/ejjays/RN-chatapp/internal/apperr"
)

const (
	MaxImageSide = 1600
	jpegQuality  = 82
)

var ErrInvalidImage = errors.New("invalid image")

// Store uploads bytes under key and returns a URL clients can fetch.
type Store interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ImageKey is the object path for a chat image.
func ImageKey(chatID, id string, unixMillis int64) string {
	return fmt.Sprintf("chats/%s/images/%s_%d.jpg", chatID, id, unixMillis)
}

// NormalizeImage decodes data (jpeg, png, gif, bmp, tiff), applies EXIF
// orientation, fits it within MaxImageSide and re-encodes it as JPEG.
func NormalizeImage(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	b := img.Bounds()
	var out image.Image = img
	if b.Dx() > MaxImageSide || b.Dy() > MaxImageSide {
		out = imaging.Fit(img, MaxImageSide, MaxImageSide, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BreakerStore guards another Store with a circuit breaker. An open breaker
// surfaces as StorageUnavailable.
type BreakerStore struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerStore(next Store, cb *gobreaker.CircuitBreaker) *BreakerStore {
	return &BreakerStore{next: next, cb: cb}
}

func (s *BreakerStore) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.next.Upload(ctx, key, contentType, data)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", apperr.Wrap(apperr.ErrStorageUnavailable, "upload", err)
		}
		return "", apperr.Storage("upload", err)
	}
	return v.(string), nil
}

// MemoryStore keeps objects in process. Used by the memory driver and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(ctx context.Context, key, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return "memory://" + key, nil
}

func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.objects[key]
	return b, ok
}
