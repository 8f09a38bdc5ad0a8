package models

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrInvalidPayload is returned for text that is not a base64 data URI.
var ErrInvalidPayload = errors.New("invalid data URI payload")

// EncodeDataURI encodes raw bytes as a self-describing text payload.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI splits a base64 data URI into its mime type and bytes.
func DecodeDataURI(payload string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(payload, "data:")
	if !ok {
		return "", nil, ErrInvalidPayload
	}

	header, body, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidPayload
	}

	mimeType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, ErrInvalidPayload
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(body))
	if err != nil {
		return "", nil, ErrInvalidPayload
	}

	return mimeType, data, nil
}
