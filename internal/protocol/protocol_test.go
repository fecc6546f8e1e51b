package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopFactory struct{}

func (nopFactory) NewClient(authDir string) (Client, error) { return nil, nil }

func TestCloseReasonTerminal(t *testing.T) {
	assert.True(t, ReasonLoggedOut.Terminal())
	assert.False(t, ReasonConnectionLost.Terminal())
	assert.False(t, ReasonServerClosed.Terminal())
	assert.False(t, ReasonTimeout.Terminal())
	assert.False(t, ReasonUnknown.Terminal())
}

func TestDriverRegistry(t *testing.T) {
	t.Run("open returns registered factory", func(t *testing.T) {
		Register("test-driver", nopFactory{})

		factory, err := Open("test-driver")
		require.NoError(t, err)
		assert.NotNil(t, factory)
		assert.Contains(t, Drivers(), "test-driver")
	})

	t.Run("open fails for unknown driver", func(t *testing.T) {
		_, err := Open("does-not-exist")
		assert.Error(t, err)
	})

	t.Run("duplicate registration panics", func(t *testing.T) {
		Register("dup-driver", nopFactory{})
		assert.Panics(t, func() {
			Register("dup-driver", nopFactory{})
		})
	})

	t.Run("nil factory panics", func(t *testing.T) {
		assert.Panics(t, func() {
			Register("nil-driver", nil)
		})
	})
}
