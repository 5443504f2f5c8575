package push

import (
	qrcode "github.com/skip2/go-qrcode"
)

// QR renders link as a terminal-friendly QR code, so a deep link can be
// opened on a phone.
func QR(link string) (string, error) {
	qr, err := qrcode.New(link, qrcode.Low)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}
