package bridge

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"ingestbridge/internal/config"
)

// ICEServers resolves the STUN/TURN list for a peer connection.
func ICEServers(c config.ICEConfig) []webrtc.ICEServer {
	var out []webrtc.ICEServer
	if len(c.STUNURLs) > 0 {
		out = append(out, webrtc.ICEServer{URLs: append([]string(nil), c.STUNURLs...)})
	}
	if c.TURNURL != "" {
		out = append(out, webrtc.ICEServer{
			URLs:           []string{c.TURNURL},
			Username:       c.TURNUsername,
			Credential:     c.TURNCredential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return out
}

func peerConfiguration(c config.ICEConfig) webrtc.Configuration {
	pc := webrtc.Configuration{ICEServers: ICEServers(c)}
	if c.TransportPolicy == "relay" {
		pc.ICETransportPolicy = webrtc.ICETransportPolicyRelay
	}
	return pc
}

// newAPI builds the pion API shared by both legs of every session. pion copies
// the MediaEngine and builds interceptors per PeerConnection.
func newAPI() (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(registry),
	), nil
}
