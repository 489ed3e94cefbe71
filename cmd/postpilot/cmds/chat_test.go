package cmds

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/postpilot/pkg/chat"
	"github.com/go-go-golems/postpilot/pkg/transport"
)

type loopbackChannel struct {
	h    transport.Handler
	sent []string
}

func (c *loopbackChannel) Send(p string) {
	c.sent = append(c.sent, p)
	c.h.OnMessage("Message received: " + p)
}
func (c *loopbackChannel) State() transport.State         { return transport.StateConnected }
func (c *loopbackChannel) SetHandler(h transport.Handler) { c.h = h }

func TestChatREPL(t *testing.T) {
	ch := &loopbackChannel{}
	ctl := chat.NewController(ch)
	ctl.OnStateChange(transport.StateConnected)

	var out bytes.Buffer
	err := chatREPL(strings.NewReader("hello\n\n  \nsecond\n/quit\nignored\n"), &out, ctl)
	require.NoError(t, err)
	require.Equal(t, []string{"hello", "second"}, ch.sent)

	msgs := ctl.Messages()
	require.Len(t, msgs, 4)
	require.Equal(t, chat.RoleAssistant, msgs[1].Role)
	require.Equal(t, "Message received: hello", msgs[1].Content)
}
