package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrack(t *testing.T) {
	c := Changes{}
	Track(c, "status", "pending", "active")
	Track(c, "fees", 100, 100)
	Track(c, "notes", "", "")

	assert.Len(t, c, 1)
	assert.Equal(t, Change{Old: "pending", New: "active"}, c["status"])
}

func TestTrackPtr(t *testing.T) {
	one, two, otherOne := int64(1), int64(2), int64(1)

	c := Changes{}
	TrackPtr(c, "unchanged_nil", (*int64)(nil), nil)
	TrackPtr(c, "unchanged", &one, &otherOne)
	TrackPtr(c, "set", nil, &one)
	TrackPtr(c, "cleared", &two, nil)
	TrackPtr(c, "moved", &one, &two)

	assert.Len(t, c, 3)
	assert.Equal(t, Change{Old: nil, New: int64(1)}, c["set"])
	assert.Equal(t, Change{Old: int64(2), New: nil}, c["cleared"])
	assert.Equal(t, Change{Old: int64(1), New: int64(2)}, c["moved"])
}

func TestChanges_Clone(t *testing.T) {
	var nilChanges Changes
	assert.NotNil(t, nilChanges.Clone())
	assert.Empty(t, nilChanges.Clone())

	c := Changes{"status": {Old: "a", New: "b"}}
	clone := c.Clone()
	clone["fees"] = Change{Old: 1, New: 2}
	assert.Len(t, c, 1)
}
