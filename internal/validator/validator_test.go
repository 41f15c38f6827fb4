package validator

import (
	"bytes"
	"errors"
	"testing"

	"kabox/internal/domain"
)

var pngHeader = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52}

func TestValidateAcceptsPlainText(t *testing.T) {
	v := New()

	res, err := v.Validate([]byte("hello world"), "text/plain", "a.txt")
	if err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
	if res.MimeType != "text/plain" {
		t.Errorf("mime type = %q, want text/plain", res.MimeType)
	}
	if res.Extension != ".txt" {
		t.Errorf("extension = %q, want .txt", res.Extension)
	}
}

func TestValidateAcceptsPNG(t *testing.T) {
	v := New()

	data := append(append([]byte{}, pngHeader...), make([]byte, 64)...)
	res, err := v.Validate(data, "image/png", "pic.png")
	if err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
	if res.MimeType != "image/png" {
		t.Errorf("mime type = %q, want image/png", res.MimeType)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	v := New()

	if _, err := v.Validate(nil, "", "a.txt"); !errors.Is(err, ErrEmptyFile) {
		t.Errorf("expected ErrEmptyFile, got %v", err)
	}
}

func TestValidateRejectsOversize(t *testing.T) {
	v := New()

	data := make([]byte, domain.MaxFileSize+1)
	if _, err := v.Validate(data, "", "big.bin"); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestValidateRejectsDangerousExtension(t *testing.T) {
	v := New()

	cases := []string{"virus.exe", "run.bat", "payload.js", "macro.docm", "SHOUT.PS1"}
	for _, name := range cases {
		if _, err := v.Validate([]byte("harmless"), "", name); !errors.Is(err, ErrExtensionDenied) {
			t.Errorf("%s: expected ErrExtensionDenied, got %v", name, err)
		}
	}
}

func TestValidateRejectsExecutableMagic(t *testing.T) {
	v := New()

	// MZ header hiding behind a harmless extension.
	data := append([]byte{0x4d, 0x5a, 0x90, 0x00}, make([]byte, 32)...)
	if _, err := v.Validate(data, "", "notes.txt"); !errors.Is(err, ErrExecutableMagic) {
		t.Errorf("expected ErrExecutableMagic, got %v", err)
	}
}

func TestValidateAllowsZipWithZipExtension(t *testing.T) {
	v := New()

	data := append([]byte{0x50, 0x4b, 0x03, 0x04}, make([]byte, 32)...)
	res, err := v.Validate(data, "", "bundle.zip")
	if err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
	if res.MimeType != "application/zip" {
		t.Errorf("mime type = %q, want application/zip", res.MimeType)
	}
}

func TestValidateRejectsTypeMismatch(t *testing.T) {
	v := New()

	data := append(append([]byte{}, pngHeader...), make([]byte, 64)...)
	if _, err := v.Validate(data, "image/jpeg", "pic.png"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
}

func TestValidateRejectsMaliciousContent(t *testing.T) {
	v := New()

	cases := [][]byte{
		[]byte("<script>alert(1)</script>"),
		[]byte("click javascript:void(0)"),
		[]byte("../../etc/shadow"),
		[]byte("1 UNION SELECT password FROM users"),
	}
	for _, data := range cases {
		if _, err := v.Validate(data, "", "note.txt"); !errors.Is(err, ErrMaliciousContent) {
			t.Errorf("%q: expected ErrMaliciousContent, got %v", bytes.TrimSpace(data), err)
		}
	}
}

func TestValidateRejectsUnsupportedType(t *testing.T) {
	v := New()

	// WASM magic sniffs as application/wasm, which is not in the allow list.
	data := append([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}, make([]byte, 16)...)
	if _, err := v.Validate(data, "", "mod.wasm"); err == nil {
		t.Error("expected rejection for unsupported type")
	}
}

func TestExtensionAllowed(t *testing.T) {
	v := New()

	if v.ExtensionAllowed("evil.exe") {
		t.Error("exe should be denied")
	}
	if !v.ExtensionAllowed("photo.jpg") {
		t.Error("jpg should be allowed")
	}
}
