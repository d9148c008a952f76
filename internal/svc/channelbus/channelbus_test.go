package channelbus

import (
	"testing"

	"github.com/seventv/relay/internal/testutil"
)

func TestChannelNames(t *testing.T) {
	b := &bus{}

	testutil.Assert(t, "user:u1:messages", b.UserChannel("u1"), "user channel name")
	testutil.Assert(t, "global:messages", b.GlobalChannel(), "global channel name")
}

func TestDispatchFansOutPerChannel(t *testing.T) {
	b := &bus{handlers: map[string]map[uint64]Handler{}}

	var (
		gotA []string
		gotB []string
	)

	b.handlers["user:u1:messages"] = map[uint64]Handler{
		1: func(channel string, payload []byte) {
			gotA = append(gotA, string(payload))
		},
		2: func(channel string, payload []byte) {
			gotB = append(gotB, string(payload))
		},
	}

	b.dispatch("user:u1:messages", []byte(`{"text":"hi"}`))
	b.dispatch("user:u2:messages", []byte(`{"text":"not ours"}`))

	testutil.Assert(t, 1, len(gotA), "first handler received exactly once")
	testutil.Assert(t, 1, len(gotB), "second handler received exactly once")
	testutil.Assert(t, `{"text":"hi"}`, gotA[0], "payload intact")
}

func TestDispatchWithoutHandlersIsSilent(t *testing.T) {
	b := &bus{handlers: map[string]map[uint64]Handler{}}

	// Must not panic or block
	b.dispatch("global:messages", []byte(`{}`))
}
