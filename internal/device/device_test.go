package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeUUID verifies that NormalizeUUID correctly handles various UUID formats
func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit short form", input: "180d", expected: "180d"},
		{name: "16-bit with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "Full Bluetooth SIG UUID with dashes", input: "0000180d-0000-1000-8000-00805f9b34fb", expected: "180d"},
		{name: "Full Bluetooth SIG UUID without dashes", input: "0000180d00001000800000805f9b34fb", expected: "180d"},
		{name: "CCCD", input: CCCDUUID, expected: "2902"},
		{name: "Custom 128-bit UUID (not SIG base)", input: "6E400001-B5A3-F393-E0A9-E50E24DCCA9E", expected: "6e400001b5a3f393e0a9e50e24dcca9e"},
		{name: "UUID with braces", input: "{0000180d-0000-1000-8000-00805f9b34fb}", expected: "180d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestCharacteristicID(t *testing.T) {
	id := CharacteristicID("6E400001-B5A3-F393-E0A9-E50E24DCCA9E", "00002a37-0000-1000-8000-00805f9b34fb")
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e/2a37", id)

	svc, char, ok := SplitCharacteristicID(id)
	require.True(t, ok, "MUST split a well-formed characteristic id")
	assert.Equal(t, "6e400001b5a3f393e0a9e50e24dcca9e", svc)
	assert.Equal(t, "2a37", char)

	_, _, ok = SplitCharacteristicID("2a37")
	assert.False(t, ok, "MUST reject ids without a service part")
}

func TestConnectionErrorIs(t *testing.T) {
	wrapped := fmt.Errorf("%w: peer went away", ErrNotConnected)

	assert.True(t, errors.Is(wrapped, ErrNotConnected), "MUST match by state through wrapping")
	assert.False(t, errors.Is(wrapped, ErrAlreadyConnected), "MUST NOT match a different state")
	assert.True(t, IsConnectionState(wrapped, NotConnected))
	assert.False(t, IsConnectionState(errors.New("plain"), NotConnected))

	custom := &ConnectionError{State: NotConnected, Msg: "link lost"}
	assert.Equal(t, "not_connected: link lost", custom.Error())
	assert.True(t, errors.Is(custom, ErrNotConnected))

	var nilErr *ConnectionError
	assert.Equal(t, "<nil>", nilErr.Error())
}

func TestPropertyCanNotify(t *testing.T) {
	tests := []struct {
		props    Property
		expected bool
		str      string
	}{
		{PropRead, false, "read"},
		{PropRead | PropNotify, true, "read|notify"},
		{PropIndicate, true, "indicate"},
		{PropUnknown, true, "unknown"},
		{0, false, "none"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.props.CanNotify())
			assert.Equal(t, tt.str, tt.props.String())
		})
	}
}

func TestPeripheralRecordDisplay(t *testing.T) {
	named := PeripheralRecord{ID: "AA:01", Name: "QualiaLock"}
	anon := PeripheralRecord{ID: "AA:02"}

	assert.Equal(t, "QualiaLock", named.DisplayName())
	assert.Equal(t, "QualiaLock (AA:01)", named.String())
	assert.Equal(t, "AA:02", anon.DisplayName())
	assert.Equal(t, "AA:02", anon.String())
}
