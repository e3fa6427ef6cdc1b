package student

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/rollcall/core"
	camerasvc "github.com/trezcool/rollcall/services/camera"
)

type uploaderMock struct {
	err       error
	calls     int
	studentID int
	images    []string
}

func (u *uploaderMock) UploadFaces(_ context.Context, id int, images []string) error {
	u.calls++
	u.studentID = id
	u.images = images
	return u.err
}

func newCapture(cam core.Camera, up FaceUploader) *FaceCapture {
	return NewFaceCapture(cam, camerasvc.NewJPEGEncoder(0, 70), up)
}

func TestFaceCapture_CaptureCurrent(t *testing.T) {
	ctx := context.Background()

	for calls := 0; calls <= len(Angles)+2; calls++ {
		cam := camerasvc.NewCameraMock()
		fc := newCapture(cam, &uploaderMock{})
		if err := fc.Start(ctx, 42); err != nil {
			t.Fatalf("Start() failed: %v", err)
		}

		for i := 0; i < calls; i++ {
			err := fc.CaptureCurrent(ctx)
			if i < len(Angles) {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, ErrAllAnglesCaptured, err)
			}
		}

		want := calls
		if want > len(Angles) {
			want = len(Angles)
		}
		assert.Equal(t, want, fc.Captured(), "calls = %d", calls)
		assert.Equal(t, want, fc.Index(), "calls = %d", calls)
		_, more := fc.CurrentAngle()
		assert.Equal(t, want < len(Angles), more)

		fc.Cancel()
		assert.Equal(t, 0, cam.Active())
	}
}

func TestFaceCapture_noStream(t *testing.T) {
	fc := newCapture(camerasvc.NewCameraMock(), &uploaderMock{})
	assert.Equal(t, ErrNoStream, fc.CaptureCurrent(context.Background()))
	_, err := fc.Preview(context.Background())
	assert.Equal(t, ErrNoStream, err)
	assert.Equal(t, 0, fc.Captured())
}

func TestFaceCapture_Start_denied(t *testing.T) {
	cam := camerasvc.NewCameraMock()
	cam.Deny = true
	fc := newCapture(cam, &uploaderMock{})

	err := fc.Start(context.Background(), 1)
	assert.True(t, core.IsCameraDenied(err))
	assert.False(t, fc.Active())
	assert.Equal(t, 0, fc.StudentID())
}

func TestFaceCapture_Start_releasesPrevious(t *testing.T) {
	ctx := context.Background()
	cam := camerasvc.NewCameraMock()
	fc := newCapture(cam, &uploaderMock{})

	assert.NoError(t, fc.Start(ctx, 1))
	assert.NoError(t, fc.CaptureCurrent(ctx))
	assert.NoError(t, fc.Start(ctx, 2))

	assert.Equal(t, 2, cam.Opened())
	assert.Equal(t, 1, cam.Active())
	assert.Equal(t, 0, fc.Captured())
	assert.Equal(t, 2, fc.StudentID())
	fc.Cancel()
}

func TestFaceCapture_Start_overlapping(t *testing.T) {
	ctx := context.Background()
	cam := camerasvc.NewCameraMock()
	cam.OpenDelay = 5 * time.Millisecond
	fc := newCapture(cam, &uploaderMock{})

	var wg sync.WaitGroup
	for id := 1; id <= 2; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			assert.NoError(t, fc.Start(ctx, id))
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 2, cam.Opened())
	assert.Equal(t, 1, cam.Active())
	assert.True(t, fc.Active())

	fc.Cancel()
	assert.Equal(t, 0, cam.Active())
}

func TestFaceCapture_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("no images", func(t *testing.T) {
		cam := camerasvc.NewCameraMock()
		up := &uploaderMock{}
		fc := newCapture(cam, up)
		assert.Equal(t, ErrNoImages, fc.Submit(ctx))

		assert.NoError(t, fc.Start(ctx, 3))
		assert.Equal(t, ErrNoImages, fc.Submit(ctx))
		assert.Equal(t, 0, up.calls)
		assert.True(t, fc.Active())
		fc.Cancel()
	})

	t.Run("backend failure keeps state", func(t *testing.T) {
		cam := camerasvc.NewCameraMock()
		up := &uploaderMock{err: errors.New("No face detected in image 1. Please retake.")}
		fc := newCapture(cam, up)
		assert.NoError(t, fc.Start(ctx, 3))
		assert.NoError(t, fc.CaptureCurrent(ctx))
		assert.NoError(t, fc.CaptureCurrent(ctx))

		assert.Error(t, fc.Submit(ctx))
		assert.Equal(t, 1, up.calls)
		assert.True(t, fc.Active())
		assert.Equal(t, 2, fc.Captured())
		assert.Equal(t, 1, cam.Active())

		// retry
		up.err = nil
		assert.NoError(t, fc.Submit(ctx))
		assert.Equal(t, 2, up.calls)
		assert.Len(t, up.images, 2)
		assert.Equal(t, 3, up.studentID)
	})

	t.Run("success releases camera", func(t *testing.T) {
		cam := camerasvc.NewCameraMock()
		up := &uploaderMock{}
		fc := newCapture(cam, up)
		assert.NoError(t, fc.Start(ctx, 9))
		for range Angles {
			assert.NoError(t, fc.CaptureCurrent(ctx))
		}

		assert.NoError(t, fc.Submit(ctx))
		assert.Len(t, up.images, len(Angles))
		assert.Equal(t, 0, cam.Active())
		assert.Equal(t, 0, fc.Index())
		assert.Equal(t, 0, fc.Captured())
		assert.False(t, fc.Active())
	})
}

func TestFaceCapture_Cancel(t *testing.T) {
	ctx := context.Background()
	cam := camerasvc.NewCameraMock()
	fc := newCapture(cam, &uploaderMock{})

	fc.Cancel() // nothing in progress

	assert.NoError(t, fc.Start(ctx, 5))
	assert.NoError(t, fc.CaptureCurrent(ctx))
	fc.Cancel()
	fc.Cancel()

	assert.Equal(t, 0, cam.Active())
	assert.Equal(t, 0, fc.Index())
	assert.False(t, fc.Active())
}
