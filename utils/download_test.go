package utils

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("could not encode test image: %v", err)
	}
	return buf.Bytes()
}

func tiffBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil); err != nil {
		t.Fatalf("could not encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestUtils_ShouldDownloadImage(t *testing.T) {
	data := pngBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	f, err := DownloadImage(context.Background(), srv.URL+"/face.png")
	if err != nil {
		t.Fatalf("could't download test file: %v", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if !strings.Contains(filepath.Base(f.Name()), "visage") {
		t.Errorf("The downloaded image should have been saved in a temporary file, got %s", f.Name())
	}
}

func TestUtils_ShouldRejectNonImageDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>not an image</body></html>"))
	}))
	defer srv.Close()

	if _, err := DownloadImage(context.Background(), srv.URL); err == nil {
		t.Errorf("A non image payload should have been rejected")
	}
}

func TestUtils_ShouldFailOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := DownloadImage(context.Background(), srv.URL); err == nil {
		t.Errorf("A 404 response should have been reported")
	}
}

func TestUtils_ShouldBeValidUrl(t *testing.T) {
	if !IsValidUrl("https://github.com/esimov/visage/") {
		t.Errorf("A valid URL should have been provided")
	}
	if IsValidUrl("face.jpg") {
		t.Errorf("A file path should not be taken for an URL")
	}
}

func TestUtils_ShouldDownloadTIFF(t *testing.T) {
	data := tiffBytes(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(data)
	}))
	defer srv.Close()

	f, err := DownloadImage(context.Background(), srv.URL+"/face.tiff")
	if err != nil {
		t.Fatalf("a TIFF payload should have been accepted: %v", err)
	}
	os.Remove(f.Name())
	f.Close()
}

func TestUtils_ShouldNotLeaveTempFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>not an image</body></html>"))
	}))
	defer srv.Close()

	if _, err := DownloadImage(context.Background(), srv.URL); err == nil {
		t.Fatalf("A non image payload should have been rejected")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("The temporary file should have been removed, found %v", entries)
	}
}

func TestUtils_ShouldDetectValidFileType(t *testing.T) {
	header := func(magic string) []byte {
		return append([]byte(magic), make([]byte, 16)...)
	}
	cases := map[string][]byte{
		"sample.png":  pngBytes(t),
		"sample.tiff": tiffBytes(t),
		"little.tiff": header("II*\x00"),
		"big.tiff":    header("MM\x00*"),
	}
	for name, data := range cases {
		path := filepath.Join(t.TempDir(), name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}

		ftype, err := DetectFileContentType(path)
		if err != nil {
			t.Fatalf("could not detect content type: %v", err)
		}
		if !strings.Contains(ftype, "image") {
			t.Errorf("%s: content type expected to be of type image, got: %v", name, ftype)
		}
	}

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("MM is not a TIFF header"), 0o644); err != nil {
		t.Fatal(err)
	}
	if ftype, _ := DetectFileContentType(path); strings.Contains(ftype, "image") {
		t.Errorf("A text file should not be taken for an image, got: %v", ftype)
	}
}
