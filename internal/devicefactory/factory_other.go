//go:build !linux

package devicefactory

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
)

const defaultBackend = GoBLE

func newTinyGoCentral(string, *logrus.Logger) (device.Central, error) {
	return nil, fmt.Errorf("%w: the tinygo backend needs BlueZ, not available on %s", device.ErrUnsupported, runtime.GOOS)
}
