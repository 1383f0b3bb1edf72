// Package imagedata converts between image bytes and self-describing
// data URIs ("data:image/png;base64,...").
package imagedata

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// ErrNotDataURI is returned for strings without a "data:" prefix and a
// comma-separated payload.
var ErrNotDataURI = errors.New("not a data URI")

// PNG is the MIME type thumbnails are stored as.
const PNG = "image/png"

// Encode returns a base64 data URI for data. An empty mediaType is
// sniffed from the content.
func Encode(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Decode returns the payload of a data URI and its media type. Both
// base64 and percent-encoded payloads are accepted.
func Decode(uri string) (data []byte, mediaType string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, "", ErrNotDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrNotDataURI
	}

	isBase64 := false
	if h, found := strings.CutSuffix(header, ";base64"); found {
		header = h
		isBase64 = true
	}
	mediaType = "text/plain"
	if header != "" {
		mt, _, err := mime.ParseMediaType(header)
		if err != nil {
			return nil, "", fmt.Errorf("parse media type: %w", err)
		}
		mediaType = mt
	}

	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some encoders drop padding.
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
		if err != nil {
			return nil, "", fmt.Errorf("decode base64 payload: %w", err)
		}
		return data, mediaType, nil
	}

	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode payload: %w", err)
	}
	return []byte(unescaped), mediaType, nil
}

// Extension maps a media type to a file extension, defaulting to ".png".
func Extension(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
