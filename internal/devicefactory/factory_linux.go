//go:build linux

package devicefactory

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/blelink/internal/device"
	"github.com/srg/blelink/internal/device/tinygo"
)

const defaultBackend = TinyGo

func newTinyGoCentral(adapter string, logger *logrus.Logger) (device.Central, error) {
	return tinygo.NewCentral(adapter, logger), nil
}
