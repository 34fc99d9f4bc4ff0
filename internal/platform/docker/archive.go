package docker

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// maxOutputSize bounds what is read back from a container.
const maxOutputSize = 256 << 20

// inputArchive builds the tar stream CopyToContainer expects: dir/ and dir/name.
func inputArchive(dir, name string, data []byte) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	now := time.Now()

	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     dir + "/",
		Mode:     0o777,
		ModTime:  now,
	}); err != nil {
		return nil, err
	}
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     dir + "/" + name,
		Mode:     0o644,
		Size:     int64(len(data)),
		ModTime:  now,
	}); err != nil {
		return nil, err
	}
	if _, err := tw.Write(data); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// firstFile returns the content of the first regular file in a tar stream,
// which is what CopyFromContainer yields for a single path.
func firstFile(r io.Reader) ([]byte, error) {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("archive contains no file")
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > maxOutputSize {
			return nil, fmt.Errorf("output of %d bytes exceeds limit", hdr.Size)
		}
		return io.ReadAll(tr)
	}
}
