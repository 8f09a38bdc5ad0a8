package models

import "strings"

// Kind is the closed set of item kinds. Match on it with a type switch and
// treat the default branch as an unknown kind.
type Kind interface {
	isKind()
	Mime() string
}

// Image is a raster image item.
type Image struct {
	MimeType string
}

func (Image) isKind() {}

// Mime returns the image mime type.
func (i Image) Mime() string { return i.MimeType }

// Thumbnailable reports whether thumbnails are generated for this format.
func (i Image) Thumbnailable() bool {
	return i.MimeType == "image/png" || i.MimeType == "image/jpeg"
}

// KindOf resolves the kind of a file from its declared mime type, falling
// back to the file name suffix when none is declared.
func KindOf(name, mimeType string) (Kind, error) {
	if mimeType == "" {
		mimeType = MimeFromName(name)
		if mimeType == "" {
			return nil, &UnknownFileTypeError{Name: name}
		}
	}

	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(mimeType, "image/") && len(mimeType) > len("image/") {
		return Image{MimeType: mimeType}, nil
	}

	return nil, &UnknownFileTypeError{Name: name, MimeType: mimeType}
}

// MimeFromName infers a mime type from a file name suffix. Only the
// formats the importer can thumbnail are recognized.
func MimeFromName(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	default:
		return ""
	}
}
