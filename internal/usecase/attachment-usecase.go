package usecase

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/iamvkosarev/persona-chat/config"
	"github.com/iamvkosarev/persona-chat/pkg/datauri"
	"github.com/iamvkosarev/persona-chat/pkg/local"
)

var (
	ErrImageTooLarge    = errors.New("image is too large")
	ErrUnsupportedImage = errors.New("unsupported image type")
)

var allowedImageTypes = []string{"image/jpeg", "image/png", "image/webp"}

// AttachmentUsecase turns picked image files into data URIs ready to be
// attached to the next message.
type AttachmentUsecase struct {
	cfg config.Chat
}

func NewAttachmentUsecase(cfg config.Chat) *AttachmentUsecase {
	return &AttachmentUsecase{
		cfg: cfg,
	}
}

// ReadImage reads an image of the declared size (negative when unknown).
// Files over the size cap are rejected before anything is read.
func (a *AttachmentUsecase) ReadImage(r io.Reader, size int64) (string, error) {
	maxSize := a.cfg.MaxImageSize
	if maxSize > 0 && size > maxSize {
		return "", ErrImageTooLarge
	}

	if maxSize > 0 {
		r = io.LimitReader(r, maxSize+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if maxSize > 0 && int64(len(raw)) > maxSize {
		return "", ErrImageTooLarge
	}

	mtype := mimetype.Detect(raw)
	if !mimetype.EqualsAny(mtype.String(), allowedImageTypes...) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mtype.String())
	}
	return datauri.Encode(mtype.String(), raw), nil
}

// CheckDataURI validates an already encoded image against the same rules as
// ReadImage. An empty uri is accepted.
func (a *AttachmentUsecase) CheckDataURI(uri string) error {
	if uri == "" {
		return nil
	}
	image, err := datauri.Parse(uri)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}
	if !mimetype.EqualsAny(image.MIMEType, allowedImageTypes...) {
		return fmt.Errorf("%w: %s", ErrUnsupportedImage, image.MIMEType)
	}
	if maxSize := a.cfg.MaxImageSize; maxSize > 0 && int64(base64.StdEncoding.DecodedLen(len(image.Data))) > maxSize+2 {
		return ErrImageTooLarge
	}
	return nil
}

// UserFacingError is the localized warning for a rejected attachment, empty
// for errors that are not attachment rejections.
func (a *AttachmentUsecase) UserFacingError(err error, language local.Language) string {
	switch {
	case errors.Is(err, ErrImageTooLarge):
		return local.ImageTooLarge.Format(language, a.cfg.MaxImageSize/(1024*1024))
	case errors.Is(err, ErrUnsupportedImage):
		return local.UnsupportedImage.Text(language)
	default:
		return ""
	}
}
