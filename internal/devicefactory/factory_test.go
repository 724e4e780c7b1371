package devicefactory

import (
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blelink/internal/device"
	goble "github.com/srg/blelink/internal/device/go-ble"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		in      string
		want    Backend
		wantErr bool
	}{
		{"", Auto, false},
		{"auto", Auto, false},
		{"GoBLE", GoBLE, false},
		{" tinygo ", TinyGo, false},
		{"bluez", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBackend(tt.in)
			if tt.wantErr {
				assert.ErrorContains(t, err, "unknown backend")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveAuto(t *testing.T) {
	if runtime.GOOS == "linux" {
		assert.Equal(t, TinyGo, Auto.Resolve())
	} else {
		assert.Equal(t, GoBLE, Auto.Resolve())
	}
	assert.Equal(t, GoBLE, GoBLE.Resolve(), "explicit backends MUST be kept")
}

func TestNewCentralGoBLE(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	central, err := NewCentral(GoBLE, "hci0", logger)
	require.NoError(t, err)
	assert.IsType(t, &goble.Central{}, central, "creating a go-ble central MUST NOT touch the radio")
	assert.NoError(t, central.Close())

	_, err = NewCentral(Backend("nope"), "hci0", logger)
	assert.Error(t, err)

	if runtime.GOOS != "linux" {
		_, err = NewCentral(TinyGo, "hci0", logger)
		assert.ErrorIs(t, err, device.ErrUnsupported)
	}
}
