package vision

import (
	"bytes"
	"image"
	"image/jpeg"
)

// imageToFloat32CHW converts an image to CHW float32 format, normalized as
// pixel = (pixel - mean) / std per channel.
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	bounds := resized.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*h*w)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := resized.At(x+bounds.Min.X, y+bounds.Min.Y).RGBA()

			rf := float32(r >> 8)
			gf := float32(g >> 8)
			bf := float32(b >> 8)

			idx := y*w + x
			data[0*h*w+idx] = (rf - mean[0]) / std[0]
			data[1*h*w+idx] = (gf - mean[1]) / std[1]
			data[2*h*w+idx] = (bf - mean[2]) / std[2]
		}
	}

	return data
}

// resizeImage performs nearest-neighbour resize, fast and good enough for
// feeding a fixed-size ML input tensor.
func resizeImage(img image.Image, targetW, targetH int) image.Image {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			srcX := bounds.Min.X + x*srcW/targetW
			srcY := bounds.Min.Y + y*srcH/targetH
			dst.Set(x, y, img.At(srcX, srcY))
		}
	}

	return dst
}

// cropFace extracts a padded face region from img.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	bounds := img.Bounds()

	x1, y1, x2, y2 := int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])
	x1, y1 = clampInt(x1, bounds.Min.X), clampInt(y1, bounds.Min.Y)
	x2, y2 = clampIntMax(x2, bounds.Max.X), clampIntMax(y2, bounds.Max.Y)

	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return nil
	}

	padW, padH := int(float32(w)*0.1), int(float32(h)*0.1)
	x1, y1 = clampInt(x1-padW, bounds.Min.X), clampInt(y1-padH, bounds.Min.Y)
	x2, y2 = clampIntMax(x2+padW, bounds.Max.X), clampIntMax(y2+padH, bounds.Max.Y)

	crop := image.NewRGBA(image.Rect(0, 0, x2-x1, y2-y1))
	for cy := y1; cy < y2; cy++ {
		for cx := x1; cx < x2; cx++ {
			crop.Set(cx-x1, cy-y1, img.At(cx, cy))
		}
	}
	return crop
}

func clampInt(v, min int) int {
	if v < min {
		return min
	}
	return v
}

func clampIntMax(v, max int) int {
	if v > max {
		return max
	}
	return v
}

// encodeJPEG encodes img as a JPEG at the given quality.
func encodeJPEG(img image.Image, quality int) []byte {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	return buf.Bytes()
}

// decodeImage decodes a JPEG or PNG byte blob, returning the bounding
// dimensions needed for detection coordinate scaling.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
