package dataset

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	idxUbyteImages = 0x00000803
	// maxImagePixels bounds a single image; real IDX3 images are far smaller.
	maxImagePixels = 1 << 24
	// maxIDXPixels bounds the whole file so a corrupt count cannot exhaust memory.
	maxIDXPixels = 1 << 32
)

// LoadIDXImages reads an IDX3 unsigned-byte image file (the MNIST format),
// gzip compressed or not, into an (N, H, W) tensor rescaled to [-1, 1].
func LoadIDXImages(path string) (*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open idx")
	}
	defer f.Close()

	t, err := ReadIDXImages(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read idx %s", path)
	}
	return t, nil
}

// ReadIDXImages decodes IDX3 image data from r. Gzip input is detected by
// its magic bytes.
func ReadIDXImages(r io.Reader) (*tensor.Dense, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil {
		return nil, errors.Wrap(err, "peek header")
	}
	var src io.Reader = br
	if magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer gz.Close()
		src = gz
	}

	var header [4]uint32
	if err := binary.Read(src, binary.BigEndian, &header); err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if header[0] != idxUbyteImages {
		return nil, errors.Errorf("unexpected magic 0x%08x", header[0])
	}
	n, h, w := uint64(header[1]), uint64(header[2]), uint64(header[3])
	if n == 0 || h == 0 || w == 0 {
		return nil, ErrEmptyPool
	}
	if h*w > maxImagePixels || n*h*w > maxIDXPixels {
		return nil, errors.Errorf("implausible idx dimensions %dx%dx%d", n, h, w)
	}

	// Pixels are read one image at a time so a short stream fails with
	// io.ErrUnexpectedEOF before the full header size is allocated.
	size := int(h * w)
	raw := make([]byte, size)
	data := make([]float64, 0, size*int(min(n, 1024)))
	for i := uint64(0); i < n; i++ {
		if _, err := io.ReadFull(src, raw); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, errors.Wrapf(err, "read pixels of image %d", i)
		}
		for _, b := range raw {
			data = append(data, float64(b)/127.5-1)
		}
	}
	return tensor.New(tensor.WithShape(int(n), int(h), int(w)), tensor.WithBacking(data)), nil
}
