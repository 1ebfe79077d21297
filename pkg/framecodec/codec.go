// Package framecodec converts between the encoded frames that travel over the
// wire (JPEG, optionally base64 encoded) and RGB rasters.
package framecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/bmharper/cimg/v2"
)

const DefaultQuality = 85

// ErrDecode is returned (wrapped) for any frame that cannot be decoded
var ErrDecode = errors.New("frame decode failed")

// ErrEncode is returned (wrapped) when a raster cannot be compressed
var ErrEncode = errors.New("frame encode failed")

var jpegMagic = []byte{0xff, 0xd8, 0xff}

// Codec decodes incoming frames and encodes annotated frames.
// A Codec has no mutable state, so it may be shared between sessions.
type Codec struct {
	Quality int // JPEG quality, 1..100
}

func NewCodec(quality int) *Codec {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &Codec{
		Quality: quality,
	}
}

// DecodeBase64 decodes a base64 JPEG, as sent by browsers in text websocket messages.
// A "data:image/jpeg;base64," prefix is tolerated.
func (c *Codec) DecodeBase64(text []byte) (*cimg.Image, error) {
	if i := bytes.Index(text, []byte("base64,")); i != -1 && bytes.HasPrefix(text, []byte("data:")) {
		text = text[i+7:]
	}
	text = bytes.TrimSpace(text)
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(text)))
	n, err := base64.StdEncoding.Decode(raw, text)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecode, err)
	}
	return c.Decode(raw[:n])
}

// Decode decodes a JPEG into a 3 channel RGB image
func (c *Codec) Decode(jpg []byte) (*cimg.Image, error) {
	if len(jpg) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrDecode)
	}
	if !bytes.HasPrefix(jpg, jpegMagic) {
		return nil, fmt.Errorf("%w: not a JPEG image", ErrDecode)
	}
	img, err := cimg.Decompress(jpg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	if img.NChan() == 3 {
		return img, nil
	}
	return img.ToRGB(), nil
}

// Encode compresses an RGB image to JPEG
func (c *Codec) Encode(img *cimg.Image) ([]byte, error) {
	if img == nil || img.Width <= 0 || img.Height <= 0 {
		return nil, fmt.Errorf("%w: empty image", ErrEncode)
	}
	jpg, err := cimg.Compress(img, cimg.MakeCompressParams(cimg.Sampling420, c.Quality, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return jpg, nil
}
