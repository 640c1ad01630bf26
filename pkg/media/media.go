// Package media loads file references, hosts them behind URLs, renders QR
// codes and prepares images and audio for the QQ bot API.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"qqbot/pkg/logger"
)

// Base64Prefix marks inline payloads in file references.
const Base64Prefix = "base64://"

var (
	// ErrUpload is returned when a file could neither be uploaded nor hosted.
	ErrUpload = errors.New("media upload failed")
	// ErrTranscode is returned by transcoders; callers keep the original audio.
	ErrTranscode = errors.New("audio transcode failed")
)

// Image is the result of an image upload.
type Image struct {
	URL    string
	Width  int
	Height int
}

// MarkdownImage is an image ready to be inlined as ![Des](URL). Des and URL
// are kept apart so template packing can place them in separate slots.
type MarkdownImage struct {
	Des    string
	URL    string
	Width  int
	Height int
}

// Uploader pushes media to a bot-side store that returns public URLs.
type Uploader interface {
	UploadImage(ctx context.Context, data []byte) (Image, error)
	UploadAudio(ctx context.Context, data []byte) (string, error)
}

// Host publishes bytes under a URL reachable by the platform.
type Host interface {
	FileToURL(ctx context.Context, name string, data []byte) (string, error)
}

// Transcoder converts audio into the platform's voice codec.
type Transcoder interface {
	PCMEncode(ctx context.Context, data []byte) ([]byte, error)
}

// QRRenderer renders text as a PNG QR code.
type QRRenderer interface {
	Render(text string) ([]byte, error)
}

// Options configure a Service.
type Options struct {
	Uploader   Uploader
	Host       Host
	Transcoder Transcoder
	QR         QRRenderer
	Loader     *Loader
	// UploadFirst tries Uploader before Host.
	UploadFirst bool
	// ImageScale multiplies probed image sizes in markdown descriptors.
	ImageScale float64
}

// Service implements the media operations used by the composers.
type Service struct {
	opts Options
	log  *slog.Logger
}

func NewService(opts Options, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.Loader == nil {
		opts.Loader = NewLoader(nil)
	}
	if opts.QR == nil {
		opts.QR = QRCodeRenderer{}
	}
	if opts.ImageScale <= 0 {
		opts.ImageScale = 1
	}
	return &Service{opts: opts, log: logger.Component(log, "media")}
}

// MarkdownImage uploads or hosts file and returns its markdown descriptor
// with the scaled pixel size.
func (s *Service) MarkdownImage(ctx context.Context, file, summary string) (MarkdownImage, error) {
	if summary == "" {
		summary = "图片"
	}
	data, err := s.opts.Loader.Load(ctx, file)
	if err != nil {
		return MarkdownImage{}, fmt.Errorf("%w: load %s: %v", ErrUpload, preview(file), err)
	}

	var img Image
	if s.opts.UploadFirst && s.opts.Uploader != nil {
		img, err = s.opts.Uploader.UploadImage(ctx, data)
		if err != nil {
			s.log.Warn("image upload failed, falling back to host", "error", err)
			img = Image{}
		}
	}
	if img.URL == "" {
		url, err := s.host(ctx, file, data)
		if err != nil {
			return MarkdownImage{}, err
		}
		img.URL = url
	}

	if img.Width == 0 || img.Height == 0 {
		w, h, err := ProbeSize(data)
		if err != nil {
			s.log.Warn("probe image size failed", "file", preview(file), "error", err)
		} else {
			img.Width, img.Height = w, h
		}
	}
	w := int(float64(img.Width) * s.opts.ImageScale)
	h := int(float64(img.Height) * s.opts.ImageScale)

	return MarkdownImage{
		Des:    fmt.Sprintf("![%s #%dpx #%dpx]", summary, w, h),
		URL:    "(" + img.URL + ")",
		Width:  w,
		Height: h,
	}, nil
}

// QRCode renders text and returns it as a base64:// file reference.
func (s *Service) QRCode(_ context.Context, text string) (string, error) {
	png, err := s.opts.QR.Render(text)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	return Base64Prefix + base64.StdEncoding.EncodeToString(png), nil
}

// HostURL returns an http(s) URL for file, hosting it when needed.
func (s *Service) HostURL(ctx context.Context, file string) (string, error) {
	if isHTTP(file) {
		return file, nil
	}
	data, err := s.opts.Loader.Load(ctx, file)
	if err != nil {
		return "", fmt.Errorf("%w: load %s: %v", ErrUpload, preview(file), err)
	}
	return s.host(ctx, file, data)
}

// Record prepares a voice message. It prefers an uploaded URL and otherwise
// transcodes the audio, keeping the original bytes when transcoding fails.
func (s *Service) Record(ctx context.Context, file string) string {
	data, err := s.opts.Loader.Load(ctx, file)
	if err != nil {
		s.log.Warn("load audio failed", "file", preview(file), "error", err)
		return file
	}
	if s.opts.UploadFirst && s.opts.Uploader != nil {
		url, err := s.opts.Uploader.UploadAudio(ctx, data)
		if err == nil && url != "" {
			return url
		}
		if err != nil {
			s.log.Warn("audio upload failed", "error", err)
		}
	}
	if s.opts.Transcoder != nil {
		encoded, err := s.opts.Transcoder.PCMEncode(ctx, data)
		if err != nil {
			s.log.Error("audio transcode failed", "error", err)
		} else {
			data = encoded
		}
	}
	return Base64Prefix + base64.StdEncoding.EncodeToString(data)
}

func (s *Service) host(ctx context.Context, file string, data []byte) (string, error) {
	if s.opts.Host == nil {
		if isHTTP(file) {
			return file, nil
		}
		return "", fmt.Errorf("%w: no file host configured", ErrUpload)
	}
	url, err := s.opts.Host.FileToURL(ctx, fileName(file), data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	return url, nil
}

func isHTTP(file string) bool {
	return strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://")
}

func fileName(file string) string {
	if strings.HasPrefix(file, Base64Prefix) {
		return ""
	}
	if i := strings.LastIndexAny(file, `/\`); i >= 0 {
		return file[i+1:]
	}
	return file
}

func preview(file string) string {
	if strings.HasPrefix(file, Base64Prefix) {
		return Base64Prefix + "..."
	}
	return file
}
