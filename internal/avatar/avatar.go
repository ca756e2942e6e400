// Package avatar turns uploaded image files into self-contained data URLs and
// checks avatar references before they are saved.
package avatar

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrNotImage is returned when the upload is not an image.
	ErrNotImage = errors.New("file is not an image")
	// ErrTooLarge is returned when the upload exceeds the size limit.
	ErrTooLarge = errors.New("file is too large")
	// ErrEmpty is returned for zero-byte uploads.
	ErrEmpty = errors.New("file is empty")
)

// Encode reads at most limit bytes from r and returns a data URL for it.
func Encode(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if int64(len(data)) > limit {
		return "", ErrTooLarge
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}

	// Drop parameters such as "; charset=utf-8" that SVG detection adds.
	mime, _, _ := strings.Cut(mt.String(), ";")
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Valid reports whether ref can be shown as an avatar: a site-relative path,
// an http(s) URL, or an image data URL.
func Valid(ref string) bool {
	switch {
	case ref == "":
		return false
	case strings.HasPrefix(ref, "data:"):
		return strings.HasPrefix(ref, "data:image/") && strings.Contains(ref, ";base64,")
	case strings.HasPrefix(ref, "/"):
		return !strings.HasPrefix(ref, "//")
	default:
		u, err := url.Parse(ref)
		if err != nil {
			return false
		}
		return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	}
}
