package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingSubscriber struct {
	got []string
}

func (r *recordingSubscriber) Publish(channel string, payload []byte) {
	r.got = append(r.got, channel+":"+string(payload))
}

func TestPubSubDirectChannel(t *testing.T) {
	ps := NewPubSub()
	sub := &recordingSubscriber{}
	ps.Subscribe(sub, "news")

	n := ps.Publish("news", []byte("hello"))
	require.Equal(t, 1, n)
	require.Equal(t, []string{"news:hello"}, sub.got)

	n = ps.Publish("sports", []byte("ignored"))
	require.Equal(t, 0, n)
}

func TestPubSubPatternMatch(t *testing.T) {
	ps := NewPubSub()
	sub := &recordingSubscriber{}
	ps.PSubscribe(sub, "news.*")

	n := ps.Publish("news.sports", []byte("goal"))
	require.Equal(t, 1, n)
	require.Equal(t, 1, ps.NumPat())

	ps.PUnsubscribe(sub, "news.*")
	require.Equal(t, 0, ps.NumPat())
}

func TestPubSubUnsubscribeAll(t *testing.T) {
	ps := NewPubSub()
	sub := &recordingSubscriber{}
	ps.Subscribe(sub, "a")
	ps.Subscribe(sub, "b")
	ps.PSubscribe(sub, "c*")

	ps.UnsubscribeAll(sub)
	require.Equal(t, 0, ps.NumSub("a"))
	require.Equal(t, 0, ps.NumSub("b"))
	require.Equal(t, 0, ps.NumPat())
}
