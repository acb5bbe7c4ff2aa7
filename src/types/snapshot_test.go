package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotDataURLRoundTrip(t *testing.T) {
	snap := Snapshot{ContentType: "image/png", Data: []byte{0x89, 'P', 'N', 'G', 0, 1, 2}}

	u := snap.DataURL()
	assert.True(t, len(u) > len("data:image/png;base64,"))

	decoded, err := ParseDataURL(u)
	require.NoError(t, err)
	assert.Equal(t, "image/png", decoded.ContentType)
	assert.Equal(t, snap.Data, decoded.Data)
}

func TestParseDataURLRejectsGarbage(t *testing.T) {
	cases := []string{
		"",
		"image/png;base64,AAAA",
		"data:image/png;base64",
		"data:image/png,plain-not-base64",
		"data:image/png;base64,!!!!",
	}
	for _, c := range cases {
		_, err := ParseDataURL(c)
		assert.Error(t, err, "input %q", c)
	}
}
