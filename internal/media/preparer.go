// Package media validates and prepares picked files for sending: content
// sniffing, image recompression and video thumbnails.
package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/matheus3301/handychat/internal/apperr"
	"github.com/matheus3301/handychat/internal/model"
	"go.uber.org/zap"
)

// PickedAsset is a file chosen by the user. DeclaredType is whatever the
// picker reported and is only used when sniffing is inconclusive.
type PickedAsset struct {
	Path         string
	DeclaredType string
}

// Result is the outcome of preparing one asset.
type Result struct {
	Attachment model.Attachment
	Err        error
}

// Preparer turns picked assets into attachments ready for upload.
type Preparer struct {
	policy    atomic.Pointer[Policy]
	extractor FrameExtractor
	prober    Prober
	outDir    string
	logger    *zap.Logger
}

// NewPreparer creates a Preparer writing recompressed files and thumbnails
// under outDir. extractor and prober may be nil, in which case videos carry
// neither a thumbnail nor a duration.
func NewPreparer(policy Policy, extractor FrameExtractor, prober Prober, outDir string, logger *zap.Logger) *Preparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if outDir == "" {
		outDir = os.TempDir()
	}
	p := &Preparer{extractor: extractor, prober: prober, outDir: outDir, logger: logger}
	p.SetPolicy(policy)
	return p
}

// SetPolicy replaces the policy used by subsequent Prepare calls.
func (p *Preparer) SetPolicy(policy Policy) {
	pol := policy.withDefaults()
	p.policy.Store(&pol)
}

// Policy returns the policy currently in effect.
func (p *Preparer) Policy() Policy {
	return *p.policy.Load()
}

// Prepare validates a single asset. Errors are ValidationErrors for index 0.
func (p *Preparer) Prepare(ctx context.Context, asset PickedAsset) (model.Attachment, error) {
	return p.prepare(ctx, 0, asset)
}

// PrepareAll prepares every asset independently; a rejected asset does not
// affect the others. Results are in input order.
func (p *Preparer) PrepareAll(ctx context.Context, assets []PickedAsset) []Result {
	out := make([]Result, len(assets))
	for i, a := range assets {
		att, err := p.prepare(ctx, i, a)
		out[i] = Result{Attachment: att, Err: err}
	}
	return out
}

func (p *Preparer) prepare(ctx context.Context, index int, asset PickedAsset) (model.Attachment, error) {
	pol := p.Policy()

	info, err := os.Stat(asset.Path)
	if err != nil {
		return model.Attachment{}, apperr.ValidationError(index, fmt.Sprintf("cannot read %s", filepath.Base(asset.Path)))
	}
	if info.IsDir() {
		return model.Attachment{}, apperr.ValidationError(index, fmt.Sprintf("%s is a directory", filepath.Base(asset.Path)))
	}

	mimeType, err := detect(asset)
	if err != nil {
		return model.Attachment{}, apperr.ValidationError(index, fmt.Sprintf("cannot read %s", filepath.Base(asset.Path)))
	}

	att := model.Attachment{Path: asset.Path, MIMEType: mimeType, Size: info.Size()}
	switch {
	case contains(pol.ImageTypes, mimeType):
		return p.prepareImage(index, att, pol)
	case contains(pol.VideoTypes, mimeType):
		return p.prepareVideo(ctx, index, att, pol)
	default:
		return model.Attachment{}, apperr.ValidationError(index, fmt.Sprintf("%s: unsupported file type %s", filepath.Base(asset.Path), mimeType))
	}
}

func (p *Preparer) prepareImage(index int, att model.Attachment, pol Policy) (model.Attachment, error) {
	if cfg, err := decodeConfig(att.Path); err == nil {
		att.Width, att.Height = cfg.Width, cfg.Height
	}
	if att.Size <= pol.ImageMaxBytes {
		return att, nil
	}

	img, err := decodeFile(att.Path)
	if err != nil {
		return model.Attachment{}, apperr.ValidationError(index, fmt.Sprintf("%s: unreadable image", filepath.Base(att.Path)))
	}
	data, scaled, err := compress(img, 0, pol.ImageMaxBytes)
	if err != nil {
		return model.Attachment{}, apperr.ValidationError(index, fmt.Sprintf("%s is larger than %s and could not be compressed",
			filepath.Base(att.Path), humanize.Bytes(uint64(pol.ImageMaxBytes))))
	}
	out := filepath.Join(p.outDir, uuid.NewString()+".jpg")
	if err := p.write(out, data); err != nil {
		return model.Attachment{}, fmt.Errorf("write compressed image: %w", err)
	}
	p.logger.Debug("image recompressed",
		zap.String("source", att.Path),
		zap.String("from", humanize.Bytes(uint64(att.Size))),
		zap.String("to", humanize.Bytes(uint64(len(data)))))

	b := scaled.Bounds()
	return model.Attachment{
		Path:     out,
		MIMEType: "image/jpeg",
		Size:     int64(len(data)),
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

func (p *Preparer) prepareVideo(ctx context.Context, index int, att model.Attachment, pol Policy) (model.Attachment, error) {
	if att.Size > pol.VideoMaxBytes {
		return model.Attachment{}, apperr.ValidationError(index, fmt.Sprintf("%s is %s, videos are limited to %s",
			filepath.Base(att.Path), humanize.Bytes(uint64(att.Size)), humanize.Bytes(uint64(pol.VideoMaxBytes))))
	}

	if p.prober != nil {
		d, err := p.prober.Duration(ctx, att.Path)
		if err != nil {
			p.logger.Warn("video duration unavailable", zap.String("path", att.Path), zap.Error(err))
		} else {
			att.DurationMs = d.Milliseconds()
		}
	}

	if p.extractor == nil {
		return att, nil
	}
	thumb, w, h, err := p.thumbnail(ctx, att.Path, pol)
	if err != nil {
		if ctx.Err() != nil {
			return model.Attachment{}, ctx.Err()
		}
		p.logger.Warn("video thumbnail failed, sending without one", zap.String("path", att.Path), zap.Error(err))
		return att, nil
	}
	thumbPath := filepath.Join(p.outDir, uuid.NewString()+"-thumb.jpg")
	if err := p.write(thumbPath, thumb); err != nil {
		p.logger.Warn("thumbnail not written", zap.String("path", thumbPath), zap.Error(err))
	} else {
		att.ThumbnailPath = thumbPath
	}
	att.Thumbnail = thumb
	att.Width, att.Height = w, h
	return att, nil
}

// thumbnail extracts a frame and encodes it under the thumbnail ceiling.
// Width and height are those of the source frame.
func (p *Preparer) thumbnail(ctx context.Context, path string, pol Policy) ([]byte, int, int, error) {
	frame, err := p.extractor.ExtractFrame(ctx, path, pol.FrameOffset)
	if err != nil {
		return nil, 0, 0, err
	}
	data, _, err := compress(frame, pol.ThumbMaxWidth, pol.ThumbMaxBytes)
	if err != nil {
		return nil, 0, 0, err
	}
	b := frame.Bounds()
	return data, b.Dx(), b.Dy(), nil
}

func (p *Preparer) write(path string, data []byte) error {
	if err := os.MkdirAll(p.outDir, 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// detect sniffs the file content. The declared type only breaks ties when
// the content is not recognized.
func detect(asset PickedAsset) (string, error) {
	m, err := mimetype.DetectFile(asset.Path)
	if err != nil {
		return "", err
	}
	if m.Is("application/octet-stream") && asset.DeclaredType != "" {
		return baseType(asset.DeclaredType), nil
	}
	for _, group := range [][]string{DefaultImageTypes, DefaultVideoTypes} {
		for _, known := range group {
			if m.Is(known) {
				return known, nil
			}
		}
	}
	return baseType(m.String()), nil
}

func baseType(t string) string {
	t, _, _ = strings.Cut(t, ";")
	return strings.ToLower(strings.TrimSpace(t))
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
