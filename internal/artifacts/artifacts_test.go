package artifacts

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "boards/brd_1/latest/Digest.pdf", ObjectKey("brd_1", "", "Digest.pdf"))
	assert.Equal(t, "boards/brd_1/abc1234/Digest.md", ObjectKey("brd_1", "abc1234", "Digest.md"))
	assert.Equal(t, "boards/_/latest/_etc_passwd", ObjectKey("", "latest", "../etc/passwd"))
}

func TestPresignedURLIsSignedOffline(t *testing.T) {
	store, err := New(Config{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio-secret",
		Bucket:    "exports",
		Region:    "us-east-1",
		URLTTL:    10 * time.Minute,
	}, nil)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	link, expires, err := store.PresignedURL(context.Background(), "boards/brd_1/latest/Digest.pdf", "Digest.pdf")
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(10*time.Minute), expires)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", u.Host)
	assert.True(t, strings.HasPrefix(u.Path, "/exports/boards/brd_1/latest/Digest.pdf"))
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.Contains(t, u.Query().Get("response-content-disposition"), `filename="Digest.pdf"`)
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}
