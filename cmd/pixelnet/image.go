package main

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/luciancaetano/pixelnet"
)

// loadRaster decodes a PNG, JPEG or GIF file into an RGB raster. Alpha is
// dropped.
func loadRaster(path string) (pixelnet.Raster, error) {
	f, err := os.Open(path)
	if err != nil {
		return pixelnet.Raster{}, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return pixelnet.Raster{}, fmt.Errorf("decode image %q: %w", path, err)
	}
	return rasterFromImage(img), nil
}

func rasterFromImage(img image.Image) pixelnet.Raster {
	b := img.Bounds()
	r := pixelnet.Raster{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pix:    make([]byte, 0, b.Dx()*b.Dy()*3),
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			r.Pix = append(r.Pix, c.R, c.G, c.B)
		}
	}
	return r
}
