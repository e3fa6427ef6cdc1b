package camerasvc

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
)

// CameraMock is an in-memory camera producing solid frames. It counts acquisitions
// so tests can check that every Open is matched by a Close.
type CameraMock struct {
	Deny      bool
	OpenDelay time.Duration

	mu     sync.Mutex
	opened int
	closed int
}

var _ core.Camera = (*CameraMock)(nil)

func NewCameraMock() *CameraMock {
	return &CameraMock{}
}

func (c *CameraMock) Open(ctx context.Context) (core.VideoStream, error) {
	if c.OpenDelay > 0 {
		time.Sleep(c.OpenDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Deny {
		return nil, errors.Wrap(core.ErrCameraDenied, "permission denied")
	}
	c.opened++
	return &mockStream{cam: c}, nil
}

func (c *CameraMock) Opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}

// Active is the number of acquisitions not released yet.
func (c *CameraMock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened - c.closed
}

type mockStream struct {
	cam *CameraMock

	mu     sync.Mutex
	frames int
	closed bool
}

func (s *mockStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("stream closed")
	}
	s.frames++
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	shade := uint8(s.frames * 16)
	for x := 0; x < 32; x++ {
		for y := 0; y < 24; y++ {
			img.Set(x, y, color.RGBA{R: shade, G: 128, B: 255 - shade, A: 255})
		}
	}
	return img, nil
}

func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cam.mu.Lock()
	s.cam.closed++
	s.cam.mu.Unlock()
	return nil
}
