//go:build linux

package goble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterIndex(t *testing.T) {
	for in, want := range map[string]int{"": 0, "hci0": 0, "hci1": 1, "2": 2, " hci3 ": 3} {
		got, err := AdapterIndex(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := AdapterIndex("usb0")
	assert.Error(t, err)
	_, err = AdapterIndex("hci-1")
	assert.Error(t, err)
}
