package server

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// ImageConfig is the source image the mask covers.
type ImageConfig struct {
	Width     int
	Height    int
	ImageData []byte
	Path      string
	Format    string
}

// LoadImage reads the image file and its dimensions.
func LoadImage(path string) (*ImageConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to load image file: %w", err)
	}
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("could not decode image config: %w", err)
	}
	return &ImageConfig{
		Width:     config.Width,
		Height:    config.Height,
		Format:    format,
		ImageData: data,
		Path:      path,
	}, nil
}

// Decode returns the decoded source image.
func (ic *ImageConfig) Decode() (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(ic.ImageData))
	return img, err
}
