package event

import (
	"errors"
	"fmt"
	"time"
)

// ContentItem is a parsed video post.
type ContentItem struct {
	ID              string
	Author          string
	CreatedAt       int64 // publisher-supplied, used only for ordering
	Locator         string
	FallbackLocator string
	IntegrityHash   string
	Title           string
	Summary         string
	Thumbnail       string
	Hashtags        []string
}

// ErrNotContentItem marks events of the video kind that carry no
// playable locator.
var ErrNotContentItem = errors.New("event has no locator tag")

// ParseContentItem extracts a ContentItem from a video event. The
// free-text content body is display-only and never parsed.
func ParseContentItem(e *Event) (*ContentItem, error) {
	if e.Kind != KindVideo {
		return nil, fmt.Errorf("kind %d is not a video event", e.Kind)
	}
	locator := e.Tag("magnet")
	if locator == "" {
		return nil, ErrNotContentItem
	}
	return &ContentItem{
		ID:              e.ID,
		Author:          e.PubKey,
		CreatedAt:       e.CreatedAt,
		Locator:         locator,
		FallbackLocator: e.Tag("ipfs"),
		IntegrityHash:   e.Tag("x"),
		Title:           e.Tag("title"),
		Summary:         e.Tag("summary"),
		Thumbnail:       e.Tag("thumb"),
		Hashtags:        e.TagValues("t"),
	}, nil
}

// Draft is an unpublished video post.
type Draft struct {
	Title           string
	Summary         string
	Hashtags        []string
	Locator         string
	FallbackLocator string
	IntegrityHash   string
	Thumbnail       string
}

// Unsigned builds the video event for the draft. ID and Sig are left
// for the proof-of-work miner and the signer.
func (d Draft) Unsigned(pubkey string, now time.Time) *Event {
	tags := [][]string{
		{"d", d.Title},
		{"magnet", d.Locator},
		{"title", d.Title},
		{"summary", d.Summary},
	}
	if d.FallbackLocator != "" {
		tags = append(tags, []string{"ipfs", d.FallbackLocator})
	}
	if d.IntegrityHash != "" {
		tags = append(tags, []string{"x", d.IntegrityHash})
	}
	if d.Thumbnail != "" {
		tags = append(tags, []string{"thumb", d.Thumbnail})
	}
	for _, h := range d.Hashtags {
		tags = append(tags, []string{"t", h})
	}
	return &Event{
		PubKey:    pubkey,
		CreatedAt: now.Unix(),
		Kind:      KindVideo,
		Tags:      tags,
		Content:   d.Title + " - " + d.Summary,
	}
}
