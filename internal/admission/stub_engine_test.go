package admission

import (
	"context"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dataChannelOffer = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"a=group:BUNDLE data\r\n" +
	"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=ice-ufrag:abcd\r\n" +
	"a=ice-pwd:abcdefghijklmnopqrstuvwx\r\n" +
	"a=fingerprint:sha-256 00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF:00:11:22:33:44:55:66:77:88:99:AA:BB:CC:DD:EE:FF\r\n" +
	"a=setup:actpass\r\n" +
	"a=mid:data\r\n" +
	"a=sctp-port:5000\r\n"

func TestStubEngineAnswer(t *testing.T) {
	engine := NewStubEngine("192.168.1.10")

	answer, err := engine.Answer(context.Background(), "c1", webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  dataChannelOffer,
	})
	require.Nil(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)

	desc := sdp.SessionDescription{}
	require.Nil(t, desc.Unmarshal([]byte(answer.SDP)))

	group, ok := desc.Attribute(sdp.AttrKeyGroup)
	assert.True(t, ok)
	assert.Equal(t, "BUNDLE data", group)

	require.Len(t, desc.MediaDescriptions, 1)
	media := desc.MediaDescriptions[0]
	assert.Equal(t, "application", media.MediaName.Media)

	mid, _ := media.Attribute(sdp.AttrKeyMID)
	assert.Equal(t, "data", mid)
	setup, _ := media.Attribute(sdp.AttrKeyConnectionSetup)
	assert.Equal(t, "active", setup)
	ufrag, _ := media.Attribute("ice-ufrag")
	assert.Len(t, ufrag, iceUfragLength)
	candidate, _ := media.Attribute(sdp.AttrKeyCandidate)
	assert.Contains(t, candidate, "192.168.1.10")
}

func TestStubEngineAnswersAreRandom(t *testing.T) {
	engine := NewStubEngine("")

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "not really sdp"}
	first, err := engine.Answer(context.Background(), "c1", offer)
	require.Nil(t, err)
	second, err := engine.Answer(context.Background(), "c2", offer)
	require.Nil(t, err)

	assert.NotEqual(t, first.SDP, second.SDP)
	assert.Contains(t, first.SDP, "a=mid:0")
}

func TestStubEngineInvalidOffer(t *testing.T) {
	engine := NewStubEngine("")

	_, err := engine.Answer(context.Background(), "c1", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	assert.ErrorIs(t, err, ErrInvalidOffer)

	_, err = engine.Answer(context.Background(), "c1", webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: dataChannelOffer})
	assert.ErrorIs(t, err, ErrInvalidOffer)
}
