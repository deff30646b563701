package config

import (
	"github.com/pion/webrtc/v3"
)

type WebRTCConfig struct {
	Configuration webrtc.Configuration
	SettingEngine webrtc.SettingEngine
}

func NewWebRTCConfig(config *Config) (*WebRTCConfig, error) {
	c := webrtc.Configuration{
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
	if len(config.RTC.ICEServers) > 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: config.RTC.ICEServers}}
	}

	s := webrtc.SettingEngine{}

	// Use only UDP
	s.SetNetworkTypes([]webrtc.NetworkType{
		webrtc.NetworkTypeUDP4, webrtc.NetworkTypeUDP6,
	})

	if config.RTC.ICEPortRangeStart != 0 || config.RTC.ICEPortRangeEnd != 0 {
		if err := s.SetEphemeralUDPPortRange(config.RTC.ICEPortRangeStart, config.RTC.ICEPortRangeEnd); err != nil {
			return nil, err
		}
	}

	return &WebRTCConfig{
		Configuration: c,
		SettingEngine: s,
	}, nil
}
