package media

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// thumbnailQuality is the JPEG quality used for every size class.
const thumbnailQuality = 85

// thumbnailSizes maps variant names to bounding-box edge lengths. Images
// are fit inside the box preserving aspect ratio, never upscaled.
var thumbnailSizes = []struct {
	Variant string
	Edge    int
}{
	{Variant: "thumb", Edge: 150},
	{Variant: "small", Edge: 300},
	{Variant: "medium", Edge: 600},
	{Variant: "large", Edge: 1200},
}

// thumbnail is one rendered size class ready for upload.
type thumbnail struct {
	Variant string
	Data    []byte
}

// renderThumbnails decodes the original image and produces every size
// class as JPEG bytes.
func renderThumbnails(original []byte) ([]thumbnail, error) {
	src, err := imaging.Decode(bytes.NewReader(original), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	out := make([]thumbnail, 0, len(thumbnailSizes))
	for _, size := range thumbnailSizes {
		resized := fitWithin(src, size.Edge)
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(thumbnailQuality)); err != nil {
			return nil, fmt.Errorf("encode %s thumbnail: %w", size.Variant, err)
		}
		out = append(out, thumbnail{Variant: size.Variant, Data: buf.Bytes()})
	}
	return out, nil
}

// fitWithin scales img down to fit an edge*edge box. Images already
// inside the box pass through untouched.
func fitWithin(img image.Image, edge int) image.Image {
	b := img.Bounds()
	if b.Dx() <= edge && b.Dy() <= edge {
		return img
	}
	return imaging.Fit(img, edge, edge, imaging.Lanczos)
}
