package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxFileSize is the upload ceiling enforced by the validator and the
// upload handlers.
const MaxFileSize = 100 * 1024 * 1024

// Provider identifies one of the fixed storage backends that can hold
// file bytes.
type Provider string

const (
	ProviderS3       Provider = "s3"
	ProviderDrive    Provider = "drive"
	ProviderMinio    Provider = "minio"
	ProviderPostgres Provider = "postgres"
	ProviderSQLite   Provider = "sqlite"
)

// Category is the coarse content class used for provider selection.
type Category string

const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
	CategoryAudio Category = "audio"
	CategoryRaw   Category = "raw"
)

// CategoryOf derives the selection category from a MIME type prefix.
func CategoryOf(mimeType string) Category {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return CategoryImage
	case strings.HasPrefix(mimeType, "video/"):
		return CategoryVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return CategoryAudio
	default:
		return CategoryRaw
	}
}

// FileRecord is the metadata row describing one stored file. The same
// record is written to every configured metadata backend.
type FileRecord struct {
	ID           string     `json:"id" db:"id"`
	Filename     string     `json:"filename" db:"filename"`
	OriginalName string     `json:"originalName" db:"original_name"`
	Size         int64      `json:"size" db:"size"`
	MimeType     string     `json:"mimeType" db:"mime_type"`
	Hash         string     `json:"hash" db:"hash"`
	Provider     Provider   `json:"provider" db:"provider"`
	StoragePath  string     `json:"storagePath" db:"storage_path"`
	URL          string     `json:"url" db:"url"`
	SourceURL    string     `json:"sourceUrl,omitempty" db:"source_url"`
	Downloads    int64      `json:"downloads" db:"downloads"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
}

// Stats aggregates metadata counts from a single backend.
type Stats struct {
	TotalFiles int64              `json:"totalFiles"`
	TotalSize  int64              `json:"totalSize"`
	Providers  map[Provider]int64 `json:"providers"`
}

// NewFileID returns a short opaque file handle: the first 12 hex
// characters of a random UUID, matching the public URL format.
func NewFileID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SanitizeFilename reduces a client-supplied name to a safe charset and
// caps its length.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	if len(s) > 255 {
		s = s[:255]
	}
	return s
}

// Extension returns the lowercased filename extension including the
// leading dot, or an empty string.
func Extension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 || idx == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[idx:])
}

// FormatBytes renders a byte count in human units, e.g. "1.50 MB".
func FormatBytes(n int64) string {
	if n == 0 {
		return "0 Bytes"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d Bytes", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
