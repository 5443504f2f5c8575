package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
)

type uploadResult struct {
	URL string `json:"url"`
}

// UploadAttachment streams a local file to POST /attachments and returns its
// remote URL.
func (c *Client) UploadAttachment(ctx context.Context, path, mimeType string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open attachment: %w", err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(path)))
		if mimeType != "" {
			h.Set("Content-Type", mimeType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	env, err := c.do(ctx, request{
		method:      http.MethodPost,
		route:       "/attachments",
		path:        "/attachments",
		body:        pr,
		contentType: mw.FormDataContentType(),
	})
	// Unblock the writer goroutine if the request ended before consuming the body.
	_ = pr.Close()
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	var res uploadResult
	if err := decode(env, &res); err != nil {
		return "", fmt.Errorf("upload %s: %w", filepath.Base(path), err)
	}
	if res.URL == "" {
		return "", fmt.Errorf("upload %s: server returned no url", filepath.Base(path))
	}
	return res.URL, nil
}
