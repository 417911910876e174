package event

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() *Event {
	return &Event{
		PubKey:    strings.Repeat("ab", 32),
		CreatedAt: 1700000000,
		Kind:      KindVideo,
		Tags: [][]string{
			{"d", "clip"},
			{"magnet", "magnet:?xt=urn:btih:" + strings.Repeat("1", 40)},
			{"title", "clip"},
			{"summary", "a clip"},
		},
		Content: "clip - a clip",
	}
}

func TestComputeID_Stable(t *testing.T) {
	e := sampleEvent()
	id := e.ComputeID()
	require.Len(t, id, 64)
	assert.Equal(t, id, e.ComputeID())

	e.Content = "changed"
	assert.NotEqual(t, id, e.ComputeID())
}

func TestSerialize_NoHTMLEscaping(t *testing.T) {
	e := sampleEvent()
	e.Content = `<b> & "quotes"`
	s := string(e.Serialize())
	assert.Contains(t, s, `<b> & \"quotes\"`)
	assert.NotContains(t, s, `\u003c`)
	assert.NotContains(t, s, "\n")
}

func TestCheckID(t *testing.T) {
	e := sampleEvent()
	e.ID = e.ComputeID()
	assert.True(t, e.CheckID())
	e.ID = strings.Repeat("0", 64)
	assert.False(t, e.CheckID())
}

func TestValidate(t *testing.T) {
	e := sampleEvent()
	e.ID = e.ComputeID()
	require.NoError(t, e.Validate())

	bad := sampleEvent()
	bad.PubKey = "short"
	assert.Error(t, bad.Validate())

	tampered := sampleEvent()
	tampered.ID = strings.Repeat("f", 64)
	assert.Error(t, tampered.Validate())
}

func TestDifficulty(t *testing.T) {
	cases := []struct {
		id   string
		want int
	}{
		{"ffff", 0},
		{"7fff", 1},
		{"3fff", 2},
		{"1fff", 3},
		{"0fff", 4},
		{"00ff", 8},
		{"002f", 10},
		{"0000", 16},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Difficulty(c.id), c.id)
	}
}

func TestMinePow(t *testing.T) {
	e := sampleEvent()
	require.NoError(t, MinePow(context.Background(), e, 8))
	assert.GreaterOrEqual(t, Difficulty(e.ID), 8)
	assert.True(t, e.CheckID())
	assert.NotEmpty(t, e.Tag("nonce"))
}

func TestMinePow_ZeroIsNoop(t *testing.T) {
	e := sampleEvent()
	require.NoError(t, MinePow(context.Background(), e, 0))
	assert.Empty(t, e.Tag("nonce"))
	assert.True(t, e.CheckID())
}

func TestMinePow_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := sampleEvent()
	err := MinePow(ctx, e, 40) // unreachable difficulty
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFilterMatches(t *testing.T) {
	e := sampleEvent()
	e.ID = e.ComputeID()

	assert.True(t, (&Filter{Kinds: []int{KindVideo}}).Matches(e))
	assert.False(t, (&Filter{Kinds: []int{KindReaction}}).Matches(e))
	assert.True(t, (&Filter{Authors: []string{e.PubKey}}).Matches(e))
	assert.True(t, (&Filter{IDs: []string{e.ID}}).Matches(e))
	assert.False(t, (&Filter{IDs: []string{"nope"}}).Matches(e))
	assert.True(t, (&Filter{Tags: map[string][]string{"title": {"clip"}}}).Matches(e))
	assert.False(t, (&Filter{Tags: map[string][]string{"title": {"other"}}}).Matches(e))
	assert.False(t, (&Filter{Since: e.CreatedAt + 1}).Matches(e))
	assert.False(t, (&Filter{Until: e.CreatedAt - 1}).Matches(e))
}

func TestFilterJSONRoundTrip(t *testing.T) {
	f := Filter{
		Kinds:   []int{KindReport},
		Tags:    map[string][]string{"e": {"abc"}},
		Limit:   16,
		Authors: []string{"deadbeef"},
	}
	data, err := f.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"#e"`)

	var back Filter
	require.NoError(t, back.UnmarshalJSON(data))
	assert.Equal(t, f.Kinds, back.Kinds)
	assert.Equal(t, f.Tags["e"], back.Tags["e"])
	assert.Equal(t, f.Limit, back.Limit)
}

func TestParseContentItem(t *testing.T) {
	d := Draft{
		Title:           "demo",
		Summary:         "short",
		Hashtags:        []string{"go", "video"},
		Locator:         "magnet:?xt=urn:btih:" + strings.Repeat("a", 40),
		FallbackLocator: "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
		IntegrityHash:   strings.Repeat("c", 64),
		Thumbnail:       "data:image/png;base64,AAAA",
	}
	e := d.Unsigned(strings.Repeat("ab", 32), time.Unix(1700000000, 0))
	e.ID = e.ComputeID()

	item, err := ParseContentItem(e)
	require.NoError(t, err)
	assert.Equal(t, "demo", item.Title)
	assert.Equal(t, d.Locator, item.Locator)
	assert.Equal(t, d.FallbackLocator, item.FallbackLocator)
	assert.Equal(t, d.IntegrityHash, item.IntegrityHash)
	assert.Equal(t, []string{"go", "video"}, item.Hashtags)
	assert.Equal(t, int64(1700000000), item.CreatedAt)
}

func TestParseContentItem_NoLocator(t *testing.T) {
	e := sampleEvent()
	e.Tags = [][]string{{"title", "clip"}}
	e.ID = e.ComputeID()
	_, err := ParseContentItem(e)
	assert.ErrorIs(t, err, ErrNotContentItem)
}
