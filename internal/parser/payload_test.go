package parser

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func tarBytes(t *testing.T, files map[string]string, order []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, name := range order {
		body := files[name]
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := io.WriteString(tw, body); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	return buf.Bytes()
}

func collectMembers(t *testing.T, name string, data []byte) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := Members(name, bytes.NewReader(data), func(member string, r io.Reader) error {
		body, err := io.ReadAll(r)
		out[member] = string(body)
		return err
	})
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	return out
}

func TestMembersPlainAndGzip(t *testing.T) {
	t.Parallel()

	plain := collectMembers(t, "a.xml", []byte("<article/>"))
	if plain["a.xml"] != "<article/>" {
		t.Fatalf("unexpected members %v", plain)
	}

	zipped := collectMembers(t, "a.xml.gz", gzipBytes(t, []byte("<article/>")))
	if zipped["a.xml.gz"] != "<article/>" {
		t.Fatalf("unexpected members %v", zipped)
	}
}

func TestMembersTarGz(t *testing.T) {
	t.Parallel()

	files := map[string]string{
		"PMC1/PMC1.nxml": "<article>1</article>",
		"PMC1/fig1.jpg":  "binary",
		"PMC2/PMC2.xml":  "<article>2</article>",
	}
	archive := gzipBytes(t, tarBytes(t, files, []string{"PMC1/PMC1.nxml", "PMC1/fig1.jpg", "PMC2/PMC2.xml"}))

	got := collectMembers(t, "oa_package/batch.tar.gz", archive)
	if len(got) != 2 || got["PMC1/PMC1.nxml"] != "<article>1</article>" || got["PMC2/PMC2.xml"] != "<article>2</article>" {
		t.Fatalf("unexpected members %v", got)
	}
}

func TestMembersCorruptGzip(t *testing.T) {
	t.Parallel()

	err := Members("bad.xml.gz", bytes.NewReader([]byte{0x1f, 0x8b, 0x00}), func(string, io.Reader) error { return nil })
	if err == nil {
		t.Fatal("expected gzip error")
	}
}
