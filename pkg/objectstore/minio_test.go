package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectURL(t *testing.T) {
	assert.Equal(t, "http://localhost:9000/evidence/a/b.jpg", ObjectURL("http://localhost:9000", "evidence", "a/b.jpg"))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".png", ExtensionFor("image/png"))
	assert.Equal(t, ".webp", ExtensionFor("image/webp"))
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg"))
	assert.Equal(t, ".jpg", ExtensionFor(""))
}
