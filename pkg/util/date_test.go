package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseTime(t *testing.T) {
	got, ok := ParseTime("2024-10-10T10:10:10Z")
	assert.True(t, ok)
	assert.Equal(t, "2024-10-10T10:10:10Z", got.UTC().Format(time.RFC3339))

	got, ok = ParseTime("2024-10-10")
	assert.True(t, ok)
	assert.Equal(t, 10, got.Day())

	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok = ParseTime(strconv.FormatInt(ts, 10))
	assert.True(t, ok)
	assert.Equal(t, ts, got.Unix())

	_, ok = ParseTime("yesterday")
	assert.False(t, ok)
}

func TestParseDefaults(t *testing.T) {
	def := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	assert.True(t, ParseTimeDefault("", def).Equal(def))
	assert.Equal(t, 7, ParseIntDefault("x", 7))
	assert.Equal(t, 3, ParseIntDefault("3", 7))
	assert.InDelta(t, 1.5, ParseFloatDefault("1.5", 0), 1e-9)
	assert.Equal(t, []string{"C", "P"}, SplitList(" C, ,P "))
	assert.Nil(t, SplitList(""))
}
