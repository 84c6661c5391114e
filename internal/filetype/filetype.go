// Package filetype recognizes artifact formats from their leading bytes.
package filetype

import (
	"bytes"
	"net/http"
	"strings"
)

// Type is a recognized format.
type Type struct {
	Ext  string // without the leading dot
	MIME string
}

var (
	PNG  = Type{Ext: "png", MIME: "image/png"}
	JPEG = Type{Ext: "jpg", MIME: "image/jpeg"}
	GIF  = Type{Ext: "gif", MIME: "image/gif"}
	WebP = Type{Ext: "webp", MIME: "image/webp"}
	BMP  = Type{Ext: "bmp", MIME: "image/bmp"}
	ICO  = Type{Ext: "ico", MIME: "image/x-icon"}
	TIFF = Type{Ext: "tif", MIME: "image/tiff"}
	SVG  = Type{Ext: "svg", MIME: "image/svg+xml"}
	PDF  = Type{Ext: "pdf", MIME: "application/pdf"}
)

var byMIME = map[string]Type{
	PNG.MIME:  PNG,
	JPEG.MIME: JPEG,
	GIF.MIME:  GIF,
	WebP.MIME: WebP,
	BMP.MIME:  BMP,
	ICO.MIME:  ICO,
	PDF.MIME:  PDF,
}

var (
	tiffLE = []byte("II*\x00")
	tiffBE = []byte("MM\x00*")
)

// Detect returns the format of buf, if it carries a recognized signature.
func Detect(buf []byte) (Type, bool) {
	if len(buf) == 0 {
		return Type{}, false
	}
	if bytes.HasPrefix(buf, tiffLE) || bytes.HasPrefix(buf, tiffBE) {
		return TIFF, true
	}
	if t, ok := byMIME[sniff(buf)]; ok {
		return t, true
	}
	if isSVG(buf) {
		return SVG, true
	}
	return Type{}, false
}

// IsImage reports whether t is an image format.
func (t Type) IsImage() bool { return strings.HasPrefix(t.MIME, "image/") }

// ExtFor returns the extension registered for a MIME type.
func ExtFor(mime string) (string, bool) {
	mime = strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])
	if mime == SVG.MIME {
		return SVG.Ext, true
	}
	if mime == TIFF.MIME {
		return TIFF.Ext, true
	}
	t, ok := byMIME[mime]
	return t.Ext, ok
}

func sniff(buf []byte) string {
	return strings.SplitN(http.DetectContentType(buf), ";", 2)[0]
}

func isSVG(buf []byte) bool {
	head := buf
	if len(head) > 1024 {
		head = head[:1024]
	}
	trimmed := bytes.TrimSpace(head)
	if !bytes.HasPrefix(trimmed, []byte("<")) {
		return false
	}
	return bytes.Contains(bytes.ToLower(head), []byte("<svg"))
}
