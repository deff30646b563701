package protocol

import (
	"encoding/json"
	"strings"
)

type MessageType string

const (
	ValidationType   MessageType = "validation"
	VideoType        MessageType = "VID"
	AudioType        MessageType = "AUD"
	InnerRequestType MessageType = "RTC_INNER_REQ"
	ReportType       MessageType = "RTC_REPORT"
	ErrType          MessageType = "ERR"
)

const (
	GetRobotInfoRequest         = "get_robot_info"
	DisableTrafficSavingRequest = "disable_traffic_saving"
)

const (
	validationOk         = "Validation Ok."
	errUnsupportedType   = "Unsupported message type"
	errInvalidFormat     = "Invalid message format"
	errValidationRequire = "Validation required"
)

// Message is one JSON object on the data channel
type Message struct {
	Type    MessageType     `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Enabled *bool           `json:"enabled,omitempty"`
	ReqType string          `json:"req_type,omitempty"`
}

type innerRequest struct {
	ReqType     string `json:"req_type"`
	Instruction string `json:"instruction"`
}

// dataString returns data when it holds a JSON string
func (m Message) dataString() (string, bool) {
	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return "", false
	}
	return s, true
}

// enabled reads the toggle state. Clients send either {"enabled":true} or
// {"data":"on"}; a missing value means off.
func (m Message) enabled() bool {
	if m.Enabled != nil {
		return *m.Enabled
	}

	if s, ok := m.dataString(); ok {
		return strings.EqualFold(s, "on")
	}

	var data struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(m.Data, &data); err == nil {
		return data.Enabled
	}

	return false
}

func (m Message) innerRequest() innerRequest {
	req := innerRequest{}
	if len(m.Data) > 0 {
		_ = json.Unmarshal(m.Data, &req)
	}
	if req.ReqType == "" {
		req.ReqType = m.ReqType
	}

	return req
}

// RobotInfo is reported on get_robot_info
type RobotInfo struct {
	Model        string   `json:"model"`
	Version      string   `json:"version"`
	SerialNumber string   `json:"serialNumber"`
	Capabilities []string `json:"capabilities"`
}

type response struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data"`
}

type report struct {
	ReqType string     `json:"req_type"`
	Info    *RobotInfo `json:"info,omitempty"`
	Status  string     `json:"status,omitempty"`
}
