package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksum(t *testing.T) {
	data := []byte(`[{"id":"a"}]`)
	sum := Checksum(data)
	assert.Len(t, sum, 8)
	assert.True(t, Verify(data, sum))
	assert.True(t, Verify(data, ""), "empty checksum means disabled")

	flipped := append([]byte(nil), data...)
	flipped[3] ^= 0xFF
	assert.False(t, Verify(flipped, sum))
}
