package camerasvc

import (
	"context"
	"image"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
)

var frameExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// DirCamera is a camera device fed by the still images of a directory, played in a loop.
// Frames are read in file name order.
type DirCamera struct {
	dir string

	mu   sync.Mutex
	busy bool
}

var _ core.Camera = (*DirCamera)(nil)

func NewDirCamera(dir string) *DirCamera {
	return &DirCamera{dir: dir}
}

func (c *DirCamera) Open(ctx context.Context) (core.VideoStream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return nil, errors.Wrap(core.ErrCameraDenied, "device busy")
	}

	infos, err := ioutil.ReadDir(c.dir)
	if err != nil {
		return nil, errors.Wrap(core.ErrCameraDenied, err.Error())
	}
	paths := make([]string, 0, len(infos))
	for _, fi := range infos {
		if !fi.IsDir() && frameExts[strings.ToLower(filepath.Ext(fi.Name()))] {
			paths = append(paths, filepath.Join(c.dir, fi.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, errors.Wrapf(core.ErrCameraDenied, "no frames in %s", c.dir)
	}
	sort.Strings(paths)

	c.busy = true
	return &dirStream{cam: c, paths: paths}, nil
}

func (c *DirCamera) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

type dirStream struct {
	cam   *DirCamera
	paths []string

	mu     sync.Mutex
	next   int
	closed bool
}

func (s *dirStream) Frame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("stream closed")
	}
	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return img, nil
}

func (s *dirStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cam.release()
	return nil
}
