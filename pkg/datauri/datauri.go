// Package datauri handles base64 data URIs of the form
// data:<mimetype>;base64,<payload>.
package datauri

import (
	"encoding/base64"
	"errors"
	"regexp"
)

var ErrMalformed = errors.New("malformed data uri")

var layout = regexp.MustCompile(`^data:(.+);base64,(.+)$`)

type Image struct {
	MIMEType string
	Data     string
}

// Parse splits uri into its MIME type and base64 payload. The payload is not
// decoded.
func Parse(uri string) (Image, error) {
	matches := layout.FindStringSubmatch(uri)
	if len(matches) != 3 {
		return Image{}, ErrMalformed
	}
	return Image{
		MIMEType: matches[1],
		Data:     matches[2],
	}, nil
}

func Encode(mimeType string, raw []byte) string {
	return Format(mimeType, base64.StdEncoding.EncodeToString(raw))
}

func Format(mimeType, payload string) string {
	return "data:" + mimeType + ";base64," + payload
}

func (i Image) String() string {
	return Format(i.MIMEType, i.Data)
}
