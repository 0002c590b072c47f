package wsreactor

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestBaseHandlerDefaults(t *testing.T) {
	var h BaseHandler

	require.True(t, h.Acceptable(nil))

	msg, ok := h.WelcomeMessage()
	require.False(t, ok)
	require.Nil(t, msg)

	// HandleMessage must be safe to call with a nil connection since
	// the default body does nothing with its arguments.
	h.HandleMessage(nil, websocket.TextMessage, []byte("hi"))
}

func TestFramedRoundTripsMessageType(t *testing.T) {
	text := framed(websocket.TextMessage, []byte("hello"))
	require.Equal(t, byte(0), text[0])
	require.Equal(t, "hello", string(text[1:]))

	bin := framed(websocket.BinaryMessage, []byte{1, 2, 3})
	require.Equal(t, byte(1), bin[0])
	require.Equal(t, []byte{1, 2, 3}, bin[1:])
}
