package twilio

import (
	"fmt"
	"net/url"

	"github.com/twilio/twilio-go/twiml"
)

// MediaStreamURL builds the websocket URL Twilio connects the call audio to.
func MediaStreamURL(host, path string) string {
	streamURL := url.URL{Scheme: "wss", Host: host, Path: path}
	return streamURL.String()
}

// ConnectTwiML answers an incoming call by connecting its audio to the media
// stream at streamURL. The caller's number travels with the stream as a
// custom parameter since the stream itself does not carry it.
func ConnectTwiML(streamURL, callerNumber string) (string, error) {
	stream := &twiml.VoiceStream{Url: streamURL}
	if callerNumber != "" {
		stream.InnerElements = []twiml.Element{
			&twiml.VoiceParameter{Name: CallerParameter, Value: callerNumber},
		}
	}

	response, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceConnect{InnerElements: []twiml.Element{stream}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to render twiml: %w", err)
	}
	return response, nil
}
