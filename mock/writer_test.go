package mock

import (
	"testing"

	"github.com/jmeaster30/simpledns/wire"
	"github.com/stretchr/testify/assert"
)

func Test_Writer(t *testing.T) {
	mw := NewWriter("udp", "127.0.0.1:0")

	m := new(wire.Message).SetQuestion("example.com.", wire.TypeA)
	err := mw.WriteMsg(m)

	assert.NoError(t, err)
	assert.True(t, mw.Written())
	assert.Equal(t, mw.Rcode(), wire.RcodeSuccess)
	assert.NotNil(t, mw.Msg())
	assert.Equal(t, mw.RemoteAddr().String(), "127.0.0.1:0")

	mw = NewWriter("tcp", "127.0.0.1:0")
	assert.False(t, mw.Written())
	assert.Equal(t, mw.Rcode(), wire.RcodeServerFailure)
	assert.Equal(t, "tcp", mw.Proto())
}
