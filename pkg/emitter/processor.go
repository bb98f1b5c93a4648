package emitter

import (
	"errors"

	"github.com/newrelic/newrelic-labs-emitter/pkg/emitter/model"
)

// ErrDropEvent can be returned by a processor to discard an event quietly.
var ErrDropEvent = errors.New("event dropped by processor")

// ProcessorFunc receives a fully stamped event before it is enqueued and
// returns the event to enqueue in its place.
type ProcessorFunc func(event model.Event) (model.Event, error)

type ProcessorListNode struct {
	next      *ProcessorListNode
	processor ProcessorFunc
}

// ProcessorList runs processors in the order they were added. The first
// error stops the chain.
type ProcessorList struct {
	head *ProcessorListNode
	tail *ProcessorListNode
}

func (pl *ProcessorList) AddProcessor(processor ProcessorFunc) {
	node := &ProcessorListNode{processor: processor}

	if pl.head == nil {
		pl.head = node
		pl.tail = node
		return
	}

	pl.tail.next = node
	pl.tail = node
}

func (pl *ProcessorList) Process(event model.Event) (model.Event, error) {
	for node := pl.head; node != nil; node = node.next {
		var err error

		event, err = node.processor(event)
		if err != nil {
			return model.Event{}, err
		}
	}

	return event, nil
}

func (pl *ProcessorList) Len() int {
	n := 0
	for node := pl.head; node != nil; node = node.next {
		n++
	}

	return n
}
