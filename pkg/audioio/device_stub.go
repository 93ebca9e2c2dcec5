//go:build !linux

package audioio

import (
	"fmt"
	"log/slog"
)

// newDeviceSource returns an error on platforms without ALSA tools.
func newDeviceSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, fmt.Errorf("audioio: device backend is only available on Linux")
}

// newDeviceSink returns an error on platforms without ALSA tools.
func newDeviceSink(cfg Config, logger *slog.Logger) (Sink, error) {
	return nil, fmt.Errorf("audioio: device backend is only available on Linux")
}
