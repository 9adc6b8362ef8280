package helper

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR renders a WhatsApp pairing challenge as a PNG for the dashboard.
func RenderQR(code string) ([]byte, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("helper: render qr: %w", err)
	}
	return png, nil
}
