package media

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudoplatform/securecomms/pkg/entities"
)

func TestDetectAndImageInfo(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 12, 7))))

	assert.Equal(t, "image/png", DetectMimeType(buf.Bytes()))
	assert.Equal(t, KindImage, KindOf("image/png"))
	assert.Equal(t, ".png", Extension("image/png"))

	w, h, ok := ImageInfo(buf.Bytes())
	require.True(t, ok)
	assert.Equal(t, 12, w)
	assert.Equal(t, 7, h)

	_, _, ok = ImageInfo([]byte("plain text"))
	assert.False(t, ok)
	assert.Equal(t, KindFile, KindOf("application/pdf"))
	assert.Equal(t, KindAudio, KindOf("audio/ogg"))
}

func TestObjectKey(t *testing.T) {
	cred := &entities.MediaCredential{KeyPrefix: "rooms/!a/"}
	assert.Equal(t, "rooms/!a/file", objectKey(cred, "file"))
	assert.Equal(t, "rooms/!a/file", objectKey(cred, "rooms/!a/file"))
	assert.Equal(t, "file", objectKey(&entities.MediaCredential{}, "file"))
}
