package parser

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Members calls fn once per XML document in a payload: the payload itself,
// its gunzipped body, or every XML member of a tar archive. Gzip is detected
// from the magic bytes, archives from the file name.
func Members(name string, r io.Reader, fn func(member string, r io.Reader) error) error {
	br := bufio.NewReader(r)
	body := io.Reader(br)

	if magic, _ := br.Peek(2); bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("gunzip %s: %w", name, err)
		}
		defer zr.Close()
		body = zr
	}

	if !isArchive(name) {
		return fn(name, body)
	}

	tr := tar.NewReader(body)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive %s: %w", name, err)
		}
		if hdr.Typeflag != tar.TypeReg || !isXMLMember(hdr.Name) {
			continue
		}
		if err := fn(hdr.Name, tr); err != nil {
			return err
		}
	}
}

func isArchive(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".tar") || strings.HasSuffix(lower, ".tar.gz") || strings.HasSuffix(lower, ".tgz")
}

func isXMLMember(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".xml", ".nxml":
		return true
	default:
		return false
	}
}
