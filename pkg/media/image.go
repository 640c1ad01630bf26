package media

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	qrcode "github.com/skip2/go-qrcode"
)

// ProbeSize reads the pixel size of a PNG, JPEG or GIF without decoding it.
func ProbeSize(data []byte) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

// QRCodeRenderer renders QR codes with go-qrcode.
type QRCodeRenderer struct {
	// Size is the PNG edge length in pixels; 0 means 256.
	Size int
}

func (r QRCodeRenderer) Render(text string) ([]byte, error) {
	size := r.Size
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(text, qrcode.Medium, size)
}
