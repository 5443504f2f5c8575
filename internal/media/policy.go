package media

import (
	"time"

	"github.com/matheus3301/handychat/internal/config"
)

// Policy bounds what can be attached to a message.
type Policy struct {
	ImageMaxBytes int64
	VideoMaxBytes int64
	ThumbMaxBytes int64
	ThumbMaxWidth int
	FrameOffset   time.Duration

	ImageTypes []string
	VideoTypes []string
}

// DefaultImageTypes are the image formats accepted for upload.
var DefaultImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// DefaultVideoTypes are the video containers accepted for upload.
var DefaultVideoTypes = []string{"video/mp4", "video/quicktime", "video/webm", "video/3gpp"}

// PolicyFromConfig builds a Policy from the [attachments] config section.
func PolicyFromConfig(cfg config.AttachmentConfig) Policy {
	return Policy{
		ImageMaxBytes: cfg.ImageMaxBytes,
		VideoMaxBytes: cfg.VideoMaxBytes,
		ThumbMaxBytes: cfg.ThumbMaxBytes,
		ThumbMaxWidth: cfg.ThumbMaxWidth,
		FrameOffset:   cfg.ThumbFrameOffset.Duration,
		ImageTypes:    DefaultImageTypes,
		VideoTypes:    DefaultVideoTypes,
	}
}

func (p Policy) withDefaults() Policy {
	d := PolicyFromConfig(config.Default().Attachments)
	if p.ImageMaxBytes <= 0 {
		p.ImageMaxBytes = d.ImageMaxBytes
	}
	if p.VideoMaxBytes <= 0 {
		p.VideoMaxBytes = d.VideoMaxBytes
	}
	if p.ThumbMaxBytes <= 0 {
		p.ThumbMaxBytes = d.ThumbMaxBytes
	}
	if p.ThumbMaxWidth <= 0 {
		p.ThumbMaxWidth = d.ThumbMaxWidth
	}
	if p.FrameOffset < 0 {
		p.FrameOffset = 0
	}
	if len(p.ImageTypes) == 0 {
		p.ImageTypes = d.ImageTypes
	}
	if len(p.VideoTypes) == 0 {
		p.VideoTypes = d.VideoTypes
	}
	return p
}
