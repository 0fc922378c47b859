package bus

import (
	"testing"

	"garvis/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryBus_PublishSubscribe(t *testing.T) {
	b := New(4, testLogger())
	defer b.Close()

	b.Publish(domain.InboundMessage{Channel: "cli", ChatID: "direct", Content: "hi"})

	msg := <-b.Subscribe()
	assert.Equal(t, "hi", msg.Content)
}

func TestInMemoryBus_OutboundRouting(t *testing.T) {
	b := New(1, testLogger())
	defer b.Close()

	var slackGot, cliGot []string
	b.OnOutbound("slack", func(m domain.OutboundMessage) { slackGot = append(slackGot, m.Content) })
	b.OnOutbound("cli", func(m domain.OutboundMessage) { cliGot = append(cliGot, m.Content) })

	b.SendOutbound(domain.OutboundMessage{Channel: "slack", Content: "a"})
	b.SendOutbound(domain.OutboundMessage{Channel: "cli", Content: "b"})
	b.SendOutbound(domain.OutboundMessage{Channel: "unknown", Content: "c"})

	assert.Equal(t, []string{"a"}, slackGot)
	assert.Equal(t, []string{"b"}, cliGot)
}

func TestInMemoryBus_CloseIsIdempotent(t *testing.T) {
	b := New(1, testLogger())
	b.Close()
	b.Close()

	// Publishing after close is dropped, not a panic.
	assert.NotPanics(t, func() { b.Publish(domain.InboundMessage{Content: "late"}) })

	_, ok := <-b.Subscribe()
	require.False(t, ok)
}

func TestNew_DefaultBuffer(t *testing.T) {
	b := New(0, nil)
	defer b.Close()
	assert.Equal(t, defaultBufferSize, cap(b.inbound))
}
