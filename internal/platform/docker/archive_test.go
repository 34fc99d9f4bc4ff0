package docker

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"
)

func TestInputArchiveLayout(t *testing.T) {
	r, err := inputArchive("work", "input.png", []byte("pixels"))
	if err != nil {
		t.Fatalf("inputArchive returned error: %v", err)
	}

	tr := tar.NewReader(r)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read archive: %v", err)
		}
		names = append(names, hdr.Name)
		if hdr.Name == "work/input.png" {
			body, _ := io.ReadAll(tr)
			if string(body) != "pixels" {
				t.Fatalf("file body = %q", body)
			}
		}
	}
	if len(names) != 2 || names[0] != "work/" || names[1] != "work/input.png" {
		t.Fatalf("unexpected entries %v", names)
	}
}

func TestFirstFileSkipsDirectories(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	tw.WriteHeader(&tar.Header{Typeflag: tar.TypeDir, Name: "out/", Mode: 0o755})
	tw.WriteHeader(&tar.Header{Typeflag: tar.TypeReg, Name: "out/output.webp", Mode: 0o644, Size: 4})
	tw.Write([]byte("RIFF"))
	tw.Close()

	data, err := firstFile(&buf)
	if err != nil {
		t.Fatalf("firstFile returned error: %v", err)
	}
	if string(data) != "RIFF" {
		t.Fatalf("firstFile = %q, want RIFF", data)
	}
}

func TestFirstFileEmptyArchive(t *testing.T) {
	var buf bytes.Buffer
	tar.NewWriter(&buf).Close()
	if _, err := firstFile(&buf); err == nil {
		t.Fatal("expected error for empty archive")
	}
}
