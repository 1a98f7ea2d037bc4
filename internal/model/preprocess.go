package model

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"
)

// InputSize is the side length of the square network input.
const InputSize = 224

// ResampleFilter is the interpolation used to bring images to InputSize.
var ResampleFilter = resize.Bilinear

// ToRGB copies img into a new opaque RGBA raster. Alpha is dropped rather
// than composited, grayscale is replicated over the three channels.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			off := dst.PixOffset(x-b.Min.X, y-b.Min.Y)
			dst.Pix[off+0] = c.R
			dst.Pix[off+1] = c.G
			dst.Pix[off+2] = c.B
			dst.Pix[off+3] = 0xff
		}
	}
	return dst
}

// Resize converts img to RGB and resamples it to size×size.
func Resize(img image.Image, size int) *image.RGBA {
	resized := resize.Resize(uint(size), uint(size), ToRGB(img), ResampleFilter)
	if rgba, ok := resized.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), resized, resized.Bounds().Min, draw.Src)
	return dst
}

// ToTensor lays an RGB raster out as a (3,H,W) tensor scaled to [0,1].
func ToTensor(img *image.RGBA) *Tensor {
	width, height := img.Rect.Dx(), img.Rect.Dy()
	plane := width * height
	t := NewTensor(3, height, width)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
			pixelIndex := y*width + x
			t.Data[pixelIndex] = float32(img.Pix[off+0]) / 255.0
			t.Data[plane+pixelIndex] = float32(img.Pix[off+1]) / 255.0
			t.Data[2*plane+pixelIndex] = float32(img.Pix[off+2]) / 255.0
		}
	}
	return t
}

// Preprocess returns the network input for img along with the resized RGB
// raster it was built from. The caller's image is never modified.
func Preprocess(img image.Image, size int) (*Tensor, *image.RGBA, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, nil, ErrInvalidImage
	}
	resized := Resize(img, size)
	return ToTensor(resized), resized, nil
}
