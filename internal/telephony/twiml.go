package telephony

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// TwiML documents returned to the telephony provider. Built with
// encoding/xml so attribute values and URLs are escaped correctly.

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Dial    *twimlDial    `xml:"Dial,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Pause   *twimlPause   `xml:"Pause,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Voice string `xml:"voice,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type twimlDial struct {
	Record                        string `xml:"record,attr,omitempty"`
	RecordingStatusCallback       string `xml:"recordingStatusCallback,attr,omitempty"`
	RecordingStatusCallbackMethod string `xml:"recordingStatusCallbackMethod,attr,omitempty"`
	Application                   string `xml:"Application"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL string `xml:"url,attr"`
}

type twimlPause struct {
	Length int `xml:"length,attr"`
}

func renderTwiML(r twimlResponse) string {
	out, err := xml.Marshal(r)
	if err != nil {
		// The document is built from plain structs; marshal cannot fail.
		return xml.Header + "<Response></Response>"
	}
	return xml.Header + string(out)
}

// DialAgentTwiML dials the provider-hosted agent application, creating a
// second call leg so dual-channel recording works. recordingCallback may be
// empty when the call has no record-keeper identifier.
func DialAgentTwiML(agentAppSID, recordingCallback string) string {
	dial := &twimlDial{
		Record:      "record-from-answer-dual",
		Application: agentAppSID,
	}
	if recordingCallback != "" {
		dial.RecordingStatusCallback = recordingCallback
		dial.RecordingStatusCallbackMethod = "POST"
	}
	return renderTwiML(twimlResponse{Dial: dial})
}

// ConnectStreamTwiML opens a media stream to streamURL and then parks the
// call for up to an hour so the leg stays up while the stream runs.
func ConnectStreamTwiML(streamURL string) string {
	return renderTwiML(twimlResponse{
		Connect: &twimlConnect{Stream: twimlStream{URL: streamURL}},
		Pause:   &twimlPause{Length: 3600},
	})
}

// HangupTwiML rejects a call leg outright.
func HangupTwiML() string {
	return renderTwiML(twimlResponse{Hangup: &struct{}{}})
}

// ErrorTwiML apologizes to the caller when call setup fails.
func ErrorTwiML() string {
	return renderTwiML(twimlResponse{
		Say: &twimlSay{Voice: "alice", Text: "Sorry, we encountered an error. Please try again later."},
	})
}

// StreamURL builds the websocket address a provider stream should connect
// to: the service's public host plus the media-stream path carrying the
// routing handle. Plain ws is used only for local development hosts.
func StreamURL(publicURL, handle string) string {
	domain := strings.TrimSpace(publicURL)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.Trim(strings.TrimSpace(domain), "/")

	scheme := "wss"
	if strings.Contains(domain, "localhost") || strings.Contains(domain, "127.0.0.1") {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s/media-stream/%s", scheme, domain, handle)
}

// SafeCallID reports whether an identifier can be embedded in a stream URL
// path without escaping surprises.
func SafeCallID(callID string) bool {
	if callID == "" {
		return false
	}
	return !strings.ContainsAny(callID, "!@#$%^&*()[]{};:,./<>?\\|`~ \n\r\t")
}
