// Package validation checks uploaded session videos and download names.
package validation

import (
	"bytes"
	"errors"
	"io"
	"net/http"
)

// ErrDisallowedFileType is returned when an upload is not a supported video container.
var ErrDisallowedFileType = errors.New("file type not allowed")

// allowedMIMETypes lists the video containers the render engine is expected to read.
var allowedMIMETypes = map[string]bool{
	"video/mp4":        true,
	"video/quicktime":  true,
	"video/webm":       true,
	"video/x-matroska": true,
	"video/avi":        true,
	"video/mp2t":       true,
}

// magicBytesBufferSize is the number of bytes to read for content type detection.
const magicBytesBufferSize = 512

// tsPacketSize is the fixed MPEG transport stream packet length.
const tsPacketSize = 188

// ValidateMagicBytes sniffs the container type from the first bytes of reader
// and rewinds it. allowed reports whether the type is a supported video.
func ValidateMagicBytes(reader io.ReadSeeker) (mime string, allowed bool, err error) {
	buf := make([]byte, magicBytesBufferSize)
	n, err := io.ReadFull(reader, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", false, err
	}

	if _, err := reader.Seek(0, io.SeekStart); err != nil {
		return "", false, err
	}

	if n == 0 {
		return "application/octet-stream", false, nil
	}
	buf = buf[:n]

	mime = detectVideoContainer(buf)
	if mime == "" {
		mime = http.DetectContentType(buf)
	}

	return mime, allowedMIMETypes[mime], nil
}

// detectVideoContainer recognises containers http.DetectContentType gets
// wrong or does not know.
func detectVideoContainer(buf []byte) string {
	if len(buf) < 4 {
		return ""
	}

	// EBML header. The DocType element tells Matroska from WebM.
	if bytes.HasPrefix(buf, []byte{0x1A, 0x45, 0xDF, 0xA3}) {
		if bytes.Contains(buf, []byte("matroska")) {
			return "video/x-matroska"
		}
		return "video/webm"
	}

	// [4 bytes size]["ftyp"][brand]
	if len(buf) >= 12 && string(buf[4:8]) == "ftyp" {
		switch string(buf[8:12]) {
		case "qt  ":
			return "video/quicktime"
		case "M4A ", "M4B ", "M4P ":
			return "audio/mp4"
		default:
			return "video/mp4"
		}
	}

	if len(buf) >= 12 && string(buf[0:4]) == "RIFF" && string(buf[8:12]) == "AVI " {
		return "video/avi"
	}

	// Transport streams carry a 0x47 sync byte at every packet boundary.
	if buf[0] == 0x47 && len(buf) > tsPacketSize && buf[tsPacketSize] == 0x47 {
		return "video/mp2t"
	}

	return ""
}
