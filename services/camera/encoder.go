package camerasvc

import (
	"bytes"
	"encoding/base64"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core"
)

// JPEGEncoder downscales frames wider than MaxWidth and encodes them as base64 JPEG.
type JPEGEncoder struct {
	MaxWidth int
	Quality  int
}

var _ core.FrameEncoder = JPEGEncoder{}

func NewJPEGEncoder(maxWidth, quality int) JPEGEncoder {
	return JPEGEncoder{MaxWidth: maxWidth, Quality: quality}
}

func (enc JPEGEncoder) Encode(img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("no frame")
	}
	if enc.MaxWidth > 0 && img.Bounds().Dx() > enc.MaxWidth {
		img = imaging.Resize(img, enc.MaxWidth, 0, imaging.Lanczos)
	}
	quality := enc.Quality
	if quality <= 0 || quality > 100 {
		quality = 70
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return "", errors.Wrap(err, "encoding jpeg")
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeFrame decodes a base64 JPEG frame, as pushed back by the backend.
func DecodeFrame(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, errors.Wrap(err, "decoding base64 frame")
	}
	return data, nil
}
