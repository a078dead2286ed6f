package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserNormalizesDisplay(t *testing.T) {
	u, err := NewUser("  Ada \t  Lovelace ")
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", u.Display)
	assert.Equal(t, "Ada Lovelace screen", u.ScreenDisplay())
	assert.GreaterOrEqual(t, uint64(u.ID), uint64(minFeedID))
}

func TestNewUserRejectsBadLength(t *testing.T) {
	_, err := NewUser(" ab ")
	assert.ErrorIs(t, err, ErrNameTooShort)

	_, err = NewUser(strings.Repeat("x", MaxNameLen+1))
	assert.ErrorIs(t, err, ErrNameTooLong)
}

func TestNewFeedIDRange(t *testing.T) {
	for range 100 {
		id := NewFeedID()
		assert.Len(t, id.String(), 16)
	}
}

func TestFeedIDJSON(t *testing.T) {
	var p Publisher
	require.NoError(t, json.Unmarshal([]byte(`{"id":"4451992378126512","display":"bob"}`), &p))
	assert.Equal(t, FeedID(4451992378126512), p.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":4451992378126513,"display":"bob"}`), &p))
	assert.Equal(t, FeedID(4451992378126513), p.ID)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"id":4451992378126513`)
}
