package rtc

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// createMediaEngine registers the default codecs so that browser offers
// carrying audio or video sections can still be answered; the robot only
// uses the data channel.
func createMediaEngine() (*webrtc.MediaEngine, *interceptor.Registry, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}

	// One registry per API; every peer connection built from the API gets
	// the default NACK and RTCP report interceptors.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, i); err != nil {
		return nil, nil, err
	}

	return mediaEngine, i, nil
}
