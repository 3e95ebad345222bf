// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package event

import (
	"context"
	"errors"
	"sync"
)

// DefaultBuffer is the channel capacity used when none is given.
const DefaultBuffer = 16

var (
	// ErrDetached is returned by Send once the consumer has detached.
	ErrDetached = errors.New("event consumer detached")

	// ErrClosed is returned by Send after the producer closed the channel.
	ErrClosed = errors.New("event channel closed")
)

// Channel is a bounded, ordered event stream with one producer and one
// consumer. Send blocks while the buffer is full.
//
// The producer calls Send and finally Close. The consumer ranges over
// Events and may call Detach to stop receiving; after that Send returns
// ErrDetached without blocking.
type Channel struct {
	ch       chan Event
	detached chan struct{}

	mu     sync.Mutex
	seq    uint64
	closed bool

	detachOnce sync.Once
	closeOnce  sync.Once
}

// NewChannel creates a channel holding at most buffer undelivered events.
func NewChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Channel{
		ch:       make(chan Event, buffer),
		detached: make(chan struct{}),
	}
}

// Send stamps ev with the next sequence number and enqueues it.
// It returns ctx.Err() if ctx ends first and ErrDetached if the consumer left.
func (c *Channel) Send(ctx context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case <-c.detached:
		return ErrDetached
	default:
	}

	c.seq++
	ev = ev.withSeq(c.seq)

	select {
	case c.ch <- ev:
		return nil
	case <-c.detached:
		c.seq--
		return ErrDetached
	case <-ctx.Done():
		c.seq--
		return ctx.Err()
	}
}

// Events returns the receive side. It is closed after Close.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Close ends the stream. Buffered events stay readable.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.ch)
		c.mu.Unlock()
	})
}

// Detach tells the producer the consumer is gone. Safe to call more than once.
func (c *Channel) Detach() {
	c.detachOnce.Do(func() {
		close(c.detached)
	})
}

// Detached is closed when the consumer detaches.
func (c *Channel) Detached() <-chan struct{} {
	return c.detached
}

// IsDetached reports whether Detach was called.
func (c *Channel) IsDetached() bool {
	select {
	case <-c.detached:
		return true
	default:
		return false
	}
}

// Collect drains the channel until it is closed or ctx ends.
func (c *Channel) Collect(ctx context.Context) ([]Event, error) {
	var out []Event
	for {
		select {
		case ev, ok := <-c.ch:
			if !ok {
				return out, nil
			}
			out = append(out, ev)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
