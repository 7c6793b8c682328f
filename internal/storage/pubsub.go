package storage

import (
	"sync"

	glob "github.com/ryanuber/go-glob"
)

// Subscriber is anything that can receive a published message; dispatch
// implements this over a session's reply writer.
type Subscriber interface {
	Publish(channel string, payload []byte)
}

// PubSub holds channel and pattern subscriber registries.
// A coarse mutex is enough: publish volume is bounded by client fan-out,
// not by keyspace size, so there is no reason to split this lock the way
// Keyspace splits its own.
type PubSub struct {
	mu       sync.Mutex
	channels map[string]map[Subscriber]struct{}
	patterns map[string]map[Subscriber]struct{}
}

func NewPubSub() *PubSub {
	return &PubSub{
		channels: make(map[string]map[Subscriber]struct{}),
		patterns: make(map[string]map[Subscriber]struct{}),
	}
}

func (p *PubSub) Subscribe(sub Subscriber, channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.channels[channel]
	if !ok {
		set = make(map[Subscriber]struct{})
		p.channels[channel] = set
	}
	set[sub] = struct{}{}
}

func (p *PubSub) Unsubscribe(sub Subscriber, channel string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.channels[channel]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(p.channels, channel)
	}
}

func (p *PubSub) PSubscribe(sub Subscriber, pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.patterns[pattern]
	if !ok {
		set = make(map[Subscriber]struct{})
		p.patterns[pattern] = set
	}
	set[sub] = struct{}{}
}

func (p *PubSub) PUnsubscribe(sub Subscriber, pattern string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.patterns[pattern]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(p.patterns, pattern)
	}
}

// UnsubscribeAll removes sub from every channel and pattern it is
// registered on; called on disconnect.
func (p *PubSub) UnsubscribeAll(sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch, set := range p.channels {
		delete(set, sub)
		if len(set) == 0 {
			delete(p.channels, ch)
		}
	}
	for pat, set := range p.patterns {
		delete(set, sub)
		if len(set) == 0 {
			delete(p.patterns, pat)
		}
	}
}

// Publish delivers payload to every direct channel subscriber and every
// subscriber whose pattern glob-matches channel, returning the number of
// receivers (the PUBLISH command's reply).
func (p *PubSub) Publish(channel string, payload []byte) int {
	p.mu.Lock()
	var targets []Subscriber
	for sub := range p.channels[channel] {
		targets = append(targets, sub)
	}
	for pat, set := range p.patterns {
		if !glob.Glob(pat, channel) {
			continue
		}
		for sub := range set {
			targets = append(targets, sub)
		}
	}
	p.mu.Unlock()

	for _, sub := range targets {
		sub.Publish(channel, payload)
	}
	return len(targets)
}

// ChannelsMatching returns active channel names with at least one
// subscriber, optionally filtered by glob pattern (PUBSUB CHANNELS).
func (p *PubSub) ChannelsMatching(pattern string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for ch, set := range p.channels {
		if len(set) == 0 {
			continue
		}
		if pattern == "" || glob.Glob(pattern, ch) {
			out = append(out, ch)
		}
	}
	return out
}

// NumSub returns the subscriber count for a single channel (PUBSUB
// NUMSUB).
func (p *PubSub) NumSub(channel string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels[channel])
}

// NumPat returns the number of distinct active patterns (PUBSUB
// NUMPAT).
func (p *PubSub) NumPat() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.patterns)
}
