package storage

import (
	"testing"

	"kabox/internal/domain"
)

func testCaps() []Capabilities {
	return []Capabilities{
		{
			Provider:   domain.ProviderDrive,
			Priority:   1,
			MaxSize:    domain.MaxFileSize,
			Categories: []domain.Category{domain.CategoryImage, domain.CategoryVideo, domain.CategoryAudio},
			PublicRead: true,
		},
		{
			Provider:   domain.ProviderMinio,
			Priority:   2,
			MaxSize:    domain.MaxFileSize,
			Categories: []domain.Category{domain.CategoryImage, domain.CategoryVideo, domain.CategoryAudio},
			PublicRead: true,
		},
		{
			Provider:   domain.ProviderPostgres,
			Priority:   3,
			MaxSize:    10 * 1024 * 1024,
			Categories: []domain.Category{domain.CategoryRaw},
		},
		{
			Provider:   domain.ProviderSQLite,
			Priority:   4,
			MaxSize:    10 * 1024 * 1024,
			Categories: []domain.Category{domain.CategoryRaw},
		},
		{
			Provider: domain.ProviderS3,
			Priority: 5,
			MaxSize:  domain.MaxFileSize,
		},
	}
}

func TestSelect(t *testing.T) {
	caps := testCaps()

	cases := []struct {
		name     string
		mimeType string
		size     int64
		want     domain.Provider
	}{
		{"image goes to drive", "image/png", 1024, domain.ProviderDrive},
		{"video goes to drive", "video/mp4", 50 * 1024 * 1024, domain.ProviderDrive},
		{"small document goes to postgres", "application/pdf", 1024, domain.ProviderPostgres},
		{"large document goes to s3", "application/pdf", 50 * 1024 * 1024, domain.ProviderS3},
		{"text goes to postgres", "text/plain", 100, domain.ProviderPostgres},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Select(caps, tc.mimeType, tc.size); got != tc.want {
				t.Errorf("Select(%s, %d) = %s, want %s", tc.mimeType, tc.size, got, tc.want)
			}
		})
	}
}

func TestSelectDefaultsWhenNothingQualifies(t *testing.T) {
	caps := []Capabilities{
		{
			Provider:   domain.ProviderPostgres,
			Priority:   1,
			MaxSize:    1024,
			Categories: []domain.Category{domain.CategoryRaw},
		},
	}
	if got := Select(caps, "application/pdf", 10*1024*1024); got != DefaultProvider {
		t.Errorf("Select = %s, want default %s", got, DefaultProvider)
	}
	if got := Select(nil, "image/png", 10); got != DefaultProvider {
		t.Errorf("Select with no capabilities = %s, want default %s", got, DefaultProvider)
	}
}

func TestSelectIsPure(t *testing.T) {
	caps := testCaps()

	first := Select(caps, "image/png", 2048)
	for i := 0; i < 100; i++ {
		if got := Select(caps, "image/png", 2048); got != first {
			t.Fatalf("iteration %d: Select = %s, want %s", i, got, first)
		}
	}
}

func TestSelectTiesKeepInputOrder(t *testing.T) {
	caps := []Capabilities{
		{Provider: domain.ProviderMinio, Priority: 1, MaxSize: domain.MaxFileSize},
		{Provider: domain.ProviderDrive, Priority: 1, MaxSize: domain.MaxFileSize},
	}
	if got := Select(caps, "image/png", 10); got != domain.ProviderMinio {
		t.Errorf("Select = %s, want first listed provider minio", got)
	}
}
