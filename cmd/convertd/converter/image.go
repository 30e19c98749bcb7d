package converter

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ImageCompressor re-encodes an image as JPEG at the requested quality.
// Alpha channels are flattened onto white, matching what users expect
// from a "compress" tool rather than failing on RGBA sources.
type ImageCompressor struct {
	log Logger
}

// NewImageCompressor creates the image-compress collaborator
func NewImageCompressor(log Logger) *ImageCompressor {
	return &ImageCompressor{log: log}
}

// Convert decodes the input and writes a JPEG at options["quality"]
// (default 70)
func (c *ImageCompressor) Convert(ctx context.Context, input []byte, options map[string]any, progress ProgressFunc) ([]byte, error) {
	quality := intOption(options, "quality", 70)
	if quality < 1 || quality > 100 {
		return nil, NewError(ToolImageCompress, "quality must be between 1 and 100", nil)
	}

	if progress != nil {
		progress(10)
	}

	img, format, err := image.Decode(bytes.NewReader(input))
	if err != nil {
		return nil, NewError(ToolImageCompress, "could not decode image", err)
	}

	if progress != nil {
		progress(50)
	}

	// Flatten to opaque RGB before JPEG encoding
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: quality}); err != nil {
		return nil, NewError(ToolImageCompress, "could not encode jpeg", err)
	}

	if progress != nil {
		progress(100)
	}

	c.log.Debug("image compressed",
		"format", format,
		"quality", quality,
		"input_size", len(input),
		"output_size", buf.Len(),
	)

	return buf.Bytes(), nil
}
