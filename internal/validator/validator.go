package validator

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"regexp"
	"strings"

	"kabox/internal/domain"
)

var (
	ErrEmptyFile        = errors.New("file is empty")
	ErrFileTooLarge     = fmt.Errorf("file size exceeds %dMB limit", domain.MaxFileSize/1024/1024)
	ErrExtensionDenied  = errors.New("file type is not allowed for security reasons")
	ErrTypeMismatch     = errors.New("file type mismatch detected")
	ErrMaliciousContent = errors.New("file contains potentially malicious content")
	ErrExecutableMagic  = errors.New("file has executable signature but wrong extension")
)

// Result describes an accepted file: the effective MIME type used for
// provider selection and the extension used for the stored filename.
type Result struct {
	MimeType  string
	Extension string
}

var allowedMimeTypes = map[string]struct{}{
	// Images
	"image/jpeg":               {},
	"image/png":                {},
	"image/gif":                {},
	"image/webp":               {},
	"image/svg+xml":            {},
	"image/bmp":                {},
	"image/tiff":               {},
	"image/x-icon":             {},
	"image/vnd.microsoft.icon": {},

	// Videos
	"video/mp4":        {},
	"video/webm":       {},
	"video/ogg":        {},
	"video/quicktime":  {},
	"video/x-msvideo":  {},
	"video/x-ms-wmv":   {},
	"video/x-flv":      {},
	"video/matroska":   {},
	"video/3gpp":       {},
	"video/3gpp2":      {},

	// Audio
	"audio/mpeg":  {},
	"audio/wav":   {},
	"audio/ogg":   {},
	"audio/flac":  {},
	"audio/aac":   {},
	"audio/x-m4a": {},
	"audio/webm":  {},

	// Documents
	"application/pdf":     {},
	"application/msword":  {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         {},
	"application/vnd.ms-powerpoint": {},
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": {},
	"application/rtf": {},
	"application/vnd.oasis.opendocument.text":         {},
	"application/vnd.oasis.opendocument.spreadsheet":  {},
	"application/vnd.oasis.opendocument.presentation": {},

	// Archives
	"application/zip":              {},
	"application/x-rar-compressed": {},
	"application/x-7z-compressed":  {},
	"application/x-tar":            {},
	"application/gzip":             {},
	"application/x-bzip2":          {},
	"application/x-xz":             {},

	// Text
	"text/plain":      {},
	"text/csv":        {},
	"text/html":       {},
	"text/css":        {},
	"text/javascript": {},
	"application/json": {},
	"application/xml":  {},
	"text/xml":         {},

	// Fonts
	"font/ttf":   {},
	"font/otf":   {},
	"font/woff":  {},
	"font/woff2": {},

	// Other
	"application/octet-stream": {},
}

var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".bat": {}, ".cmd": {}, ".sh": {}, ".php": {}, ".asp": {},
	".aspx": {}, ".jsp": {}, ".pl": {}, ".py": {}, ".rb": {}, ".jar": {},
	".class": {}, ".js": {}, ".vbs": {}, ".ps1": {}, ".msi": {}, ".com": {},
	".scr": {}, ".pif": {}, ".application": {}, ".gadget": {}, ".msp": {},
	".hta": {}, ".cpl": {}, ".msc": {}, ".vb": {}, ".vbe": {}, ".ws": {},
	".wsf": {}, ".wsc": {}, ".wsh": {}, ".psc1": {}, ".psc2": {}, ".msh": {},
	".msh1": {}, ".msh2": {}, ".mshxml": {}, ".msh1xml": {}, ".msh2xml": {},
	".scf": {}, ".lnk": {}, ".inf": {}, ".reg": {}, ".docm": {}, ".dotm": {},
	".xlsm": {}, ".xltm": {}, ".xlam": {}, ".pptm": {}, ".potm": {},
	".ppam": {}, ".sldm": {}, ".sldx": {},
}

var maliciousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\s*>.*<\s*/script\s*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)data:`),
	regexp.MustCompile(`(?i)onload=`),
	regexp.MustCompile(`(?i)onerror=`),
	regexp.MustCompile(`(?i)onclick=`),
	regexp.MustCompile(`(?i)eval\(`),
	regexp.MustCompile(`(?i)document\.cookie`),
	regexp.MustCompile(`(?i)window\.location`),
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`(?i)/etc/passwd`),
	regexp.MustCompile(`(?i)/bin/sh`),
	regexp.MustCompile(`(?i)union.*select`),
	regexp.MustCompile(`(?i)insert.*into`),
	regexp.MustCompile(`(?i)drop.*table`),
	regexp.MustCompile(`(?i)delete.*from`),
	regexp.MustCompile(`(?i)update.*set`),
	regexp.MustCompile(`(?i)create.*table`),
	regexp.MustCompile(`(?i)alter.*table`),
	regexp.MustCompile(`(?i)exec\(`),
	regexp.MustCompile(`(?i)system\(`),
	regexp.MustCompile(`(?i)shell_exec\(`),
	regexp.MustCompile(`(?i)passthru\(`),
}

// Leading byte signatures of executable or container formats. Archives
// are allowed when the extension matches.
var dangerousMagic = [][]byte{
	{0x4d, 0x5a},                         // EXE
	{0x5a, 0x4d},                         // EXE
	{0x7f, 0x45, 0x4c, 0x46},             // ELF
	{0x23, 0x21},                         // shebang
	{0x4d, 0x53, 0x43, 0x46},             // MS Cabinet
	{0x50, 0x4b, 0x03, 0x04},             // ZIP
	{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07}, // RAR
	{0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c}, // 7z
}

var archiveExtensions = []string{".zip", ".rar", ".7z"}

// Validator checks file content before any storage backend is touched.
type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate runs the full check chain over a file's bytes. The declared
// type comes from the client and is only compared, never trusted.
func (v *Validator) Validate(data []byte, declaredType, filename string) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > domain.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	name := strings.ToLower(filename)
	ext := domain.Extension(name)

	if _, bad := dangerousExtensions[ext]; bad {
		return nil, ErrExtensionDenied
	}

	detected := detectMimeType(data, name)

	if _, ok := allowedMimeTypes[detected]; !ok {
		return nil, fmt.Errorf("file type %q is not supported", detected)
	}

	// Content sniffing is coarse for most document formats, so the
	// mismatch check only fires when the sniffed type is specific.
	if declaredType != "" && declaredType != "application/octet-stream" &&
		detected != "application/octet-stream" && !strings.HasPrefix(detected, "text/plain") {
		if baseType(declaredType) != detected {
			return nil, ErrTypeMismatch
		}
	}

	if err := scanContent(data, name); err != nil {
		return nil, err
	}

	return &Result{MimeType: detected, Extension: ext}, nil
}

func detectMimeType(data []byte, name string) string {
	sniffed := http.DetectContentType(data)
	sniffed = baseType(sniffed)
	if sniffed != "application/octet-stream" && !strings.HasPrefix(sniffed, "text/plain") {
		return sniffed
	}
	if byExt := mime.TypeByExtension(domain.Extension(name)); byExt != "" {
		return baseType(byExt)
	}
	if strings.HasPrefix(sniffed, "text/plain") {
		return "text/plain"
	}
	return "application/octet-stream"
}

// baseType strips parameters like "; charset=utf-8".
func baseType(mimeType string) string {
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return strings.TrimSpace(mimeType)
}

func scanContent(data []byte, name string) error {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	for _, pattern := range maliciousPatterns {
		if pattern.Match(head) {
			return ErrMaliciousContent
		}
	}

	for _, magic := range dangerousMagic {
		if !bytes.HasPrefix(data, magic) {
			continue
		}
		allowed := false
		for _, ext := range archiveExtensions {
			if strings.HasSuffix(name, ext) {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrExecutableMagic
		}
	}

	return nil
}

// ExtensionAllowed reports whether a filename's extension passes the
// deny-list without inspecting content.
func (v *Validator) ExtensionAllowed(filename string) bool {
	_, bad := dangerousExtensions[domain.Extension(strings.ToLower(filename))]
	return !bad
}
