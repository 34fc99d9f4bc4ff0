package convert

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/png"
	"io"
)

const (
	icoHeaderSize = 6
	icoEntrySize  = 16
)

type icoHeader struct {
	Reserved uint16
	Type     uint16 // 1 = icon
	Count    uint16
}

type icoEntry struct {
	Width       uint8 // 0 means 256
	Height      uint8
	ColorCount  uint8
	Reserved    uint8
	Planes      uint16
	BitCount    uint16
	BytesInRes  uint32
	ImageOffset uint32
}

// encodeICO writes a single-image icon with a PNG payload (Windows Vista+ format).
func encodeICO(w io.Writer, img image.Image) error {
	b := img.Bounds()
	if b.Dx() > IconMaxSize || b.Dy() > IconMaxSize || b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("icon dimensions %dx%d out of range", b.Dx(), b.Dy())
	}

	var payload bytes.Buffer
	if err := png.Encode(&payload, img); err != nil {
		return err
	}

	entry := icoEntry{
		Width:       uint8(b.Dx() % IconMaxSize),
		Height:      uint8(b.Dy() % IconMaxSize),
		Planes:      1,
		BitCount:    32,
		BytesInRes:  uint32(payload.Len()),
		ImageOffset: icoHeaderSize + icoEntrySize,
	}
	if err := binary.Write(w, binary.LittleEndian, icoHeader{Type: 1, Count: 1}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, entry); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}
