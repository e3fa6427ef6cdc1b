package core

import (
	"context"
	"image"
)

type (
	// Camera is a video capture device. Open acquires it exclusively;
	// the returned VideoStream must be closed to release the device.
	Camera interface {
		Open(ctx context.Context) (VideoStream, error)
	}

	VideoStream interface {
		// Frame returns the current video frame.
		Frame(ctx context.Context) (image.Image, error)
		Close() error
	}

	// FrameEncoder turns a video frame into the base64 JPEG the backend expects.
	FrameEncoder interface {
		Encode(img image.Image) (string, error)
	}
)
