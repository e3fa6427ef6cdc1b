package student

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
)

var (
	// errors
	ErrNoStream          = errors.New("no active camera stream")
	ErrNoImages          = errors.New("no images captured")
	ErrAllAnglesCaptured = errors.New("all angles already captured")
)

// Angle is one of the head orientations required for face registration.
type Angle struct {
	Name   string
	Prompt string
}

// Angles are captured in this order.
var Angles = []Angle{
	{Name: "front", Prompt: "Look straight at the camera"},
	{Name: "left", Prompt: "Turn your head slightly to the left"},
	{Name: "right", Prompt: "Turn your head slightly to the right"},
	{Name: "up", Prompt: "Tilt your head slightly up"},
}

// FaceUploader submits the captured face images of a student.
type FaceUploader interface {
	UploadFaces(ctx context.Context, id int, images []string) error
}

// FaceCapture collects one image per Angle from a live camera and submits the batch.
// It holds at most one camera acquisition; Submit (on success) and Cancel release it.
type FaceCapture struct {
	camera   core.Camera
	encoder  core.FrameEncoder
	uploader FaceUploader

	mu        sync.Mutex
	stream    core.VideoStream
	studentID int
	index     int
	images    []string
}

func NewFaceCapture(camera core.Camera, encoder core.FrameEncoder, uploader FaceUploader) *FaceCapture {
	return &FaceCapture{
		camera:   camera,
		encoder:  encoder,
		uploader: uploader,
	}
}

// Start acquires the camera for capturing studentID's face.
// A capture already in progress is released first.
func (fc *FaceCapture) Start(ctx context.Context, studentID int) error {
	fc.Cancel()

	stream, err := fc.camera.Open(ctx)
	if err != nil {
		if core.IsCameraDenied(err) {
			return err
		}
		return errors.Wrap(core.ErrCameraDenied, err.Error())
	}

	fc.mu.Lock()
	displaced := fc.stream
	fc.stream = stream
	fc.studentID = studentID
	fc.index = 0
	fc.images = nil
	fc.mu.Unlock()

	// an overlapping Start may have stored its stream while this one was opening
	if displaced != nil {
		_ = displaced.Close()
	}
	return nil
}

// Preview returns the current live frame.
func (fc *FaceCapture) Preview(ctx context.Context) (image.Image, error) {
	fc.mu.Lock()
	stream := fc.stream
	fc.mu.Unlock()
	if stream == nil {
		return nil, ErrNoStream
	}
	return stream.Frame(ctx)
}

// CaptureCurrent snapshots the current frame for the current angle and advances to the next one.
func (fc *FaceCapture) CaptureCurrent(ctx context.Context) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.stream == nil {
		return ErrNoStream
	}
	if fc.index >= len(Angles) {
		return ErrAllAnglesCaptured
	}

	frame, err := fc.stream.Frame(ctx)
	if err != nil {
		return errors.Wrap(err, "reading frame")
	}
	img, err := fc.encoder.Encode(frame)
	if err != nil {
		return errors.Wrap(err, "encoding frame")
	}
	fc.images = append(fc.images, img)
	fc.index++
	return nil
}

// Submit uploads the captured images. On failure the capture state is kept so the user may retry.
func (fc *FaceCapture) Submit(ctx context.Context) error {
	fc.mu.Lock()
	if len(fc.images) == 0 {
		fc.mu.Unlock()
		return ErrNoImages
	}
	studentID := fc.studentID
	images := make([]string, len(fc.images))
	copy(images, fc.images)
	fc.mu.Unlock()

	if err := fc.uploader.UploadFaces(ctx, studentID, images); err != nil {
		return errors.Wrap(err, "uploading faces")
	}
	fc.Cancel()
	return nil
}

// Cancel releases the camera and clears the capture state. Safe to call at any time.
func (fc *FaceCapture) Cancel() {
	fc.mu.Lock()
	stream := fc.stream
	fc.stream = nil
	fc.studentID = 0
	fc.index = 0
	fc.images = nil
	fc.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
}

func (fc *FaceCapture) Active() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.stream != nil
}

// Index is the index of the next Angle to capture.
func (fc *FaceCapture) Index() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.index
}

// CurrentAngle returns the next Angle to capture, false once all are captured.
func (fc *FaceCapture) CurrentAngle() (Angle, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.index >= len(Angles) {
		return Angle{}, false
	}
	return Angles[fc.index], true
}

func (fc *FaceCapture) Captured() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return len(fc.images)
}

func (fc *FaceCapture) StudentID() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.studentID
}
