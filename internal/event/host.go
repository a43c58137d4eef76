package event

import (
	"github.com/shirou/gopsutil/v3/host"

	"github.com/tphakala/birdnet-edge/internal/logger"
)

// CollectHostInfo reads host details once; failures leave the field unset
func CollectHostInfo() *HostInfo {
	info, err := host.Info()
	if err != nil {
		GetLogger().Debug("host info unavailable", logger.Error(err))
		return nil
	}
	return &HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		KernelArch:      info.KernelArch,
	}
}
