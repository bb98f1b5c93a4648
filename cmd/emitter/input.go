package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter"
	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/model"
)

const (
	commandFlush = "flush"
)

// inputLine is one JSON object read from stdin. type is track, page,
// identify or flush.
type inputLine struct {
	Type       string           `json:"type"`
	Event      string           `json:"event"`
	Properties model.Properties `json:"properties"`
	UserID     string           `json:"userId"`
	Traits     model.Traits     `json:"traits"`
}

type recorder interface {
	Track(name string, properties model.Properties)
	Pageview(properties model.Properties)
	Identify(userID string, traits model.Traits)
	Flush(ctx context.Context) error
}

var _ recorder = (*emitter.Emitter)(nil)

func handleLine(ctx context.Context, r recorder, line []byte) error {
	var in inputLine

	err := json.Unmarshal(line, &in)
	if err != nil {
		return fmt.Errorf("invalid input line: %w", err)
	}

	switch in.Type {
	case string(model.Track):
		if in.Event == "" {
			return fmt.Errorf("track requires an event name")
		}
		r.Track(in.Event, in.Properties)

	case string(model.Page):
		r.Pageview(in.Properties)

	case string(model.Identify):
		if in.UserID == "" {
			return fmt.Errorf("identify requires a userId")
		}
		r.Identify(in.UserID, in.Traits)

	case commandFlush:
		return r.Flush(ctx)

	default:
		return fmt.Errorf("unknown input type %q", in.Type)
	}

	return nil
}
