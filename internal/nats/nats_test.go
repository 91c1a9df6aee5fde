package nats

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applied(t *testing.T, opts []nats.Option) nats.Options {
	t.Helper()
	o := nats.GetDefaultOptions()
	for _, opt := range opts {
		require.NoError(t, opt(&o))
	}
	return o
}

func TestOptions(t *testing.T) {
	o := applied(t, Options("card", ""))

	assert.Equal(t, "card service", o.Name)
	assert.Equal(t, -1, o.MaxReconnect)
	assert.Empty(t, o.Token)
}

func TestOptionsWithToken(t *testing.T) {
	o := applied(t, Options("socket", "s3cret"))

	assert.Equal(t, "s3cret", o.Token)
}
