package page

import (
	"context"
)

// Region is one independently rendered part of the city page.
type Region string

const (
	RegionCity      Region = "city"
	RegionWeather   Region = "weather"
	RegionExcerpt   Region = "excerpt"
	RegionAmenities Region = "amenities"
	RegionMeetups   Region = "meetups"
)

// Status tells the presentation layer how to draw a region.
type Status string

const (
	StatusOK Status = "ok"
	// StatusEmpty is a valid answer with nothing to list; a placeholder is shown.
	StatusEmpty Status = "empty"
	// StatusUnavailable means the provider failed; only this region shows it.
	StatusUnavailable Status = "unavailable"
)

// Content is what one region renders once its provider call completes.
type Content struct {
	Region Region `json:"region"`
	Status Status `json:"status"`
	Text   string `json:"text"`
	Data   any    `json:"data,omitempty"`
}

// Sink receives region contents as they complete, in no particular order.
type Sink interface {
	Render(Content)
}

// ChannelSink delivers contents over a buffered channel. The buffer holds one
// content per region so renderers never block on a slow reader.
type ChannelSink struct {
	ch chan Content
}

func NewChannelSink() *ChannelSink {
	return &ChannelSink{ch: make(chan Content, len(allRegions))}
}

func (s *ChannelSink) Render(c Content) {
	s.ch <- c
}

// Next waits for the next rendered region. It returns false when ctx is done first.
func (s *ChannelSink) Next(ctx context.Context) (Content, bool) {
	select {
	case c := <-s.ch:
		return c, true
	case <-ctx.Done():
		return Content{}, false
	}
}

var allRegions = []Region{RegionCity, RegionWeather, RegionExcerpt, RegionAmenities, RegionMeetups}
