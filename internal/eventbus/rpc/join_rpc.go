package rpc

import (
	"bytes"
	"encoding/json"

	"github.com/isqad/robosignal/internal/core"
)

type JoinParams struct {
	RoomID core.RoomID `json:"roomId"`
}

// UnmarshalJSON accepts both the bare room name and the object form
func (p *JoinParams) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var roomID string
		if err := json.Unmarshal(data, &roomID); err != nil {
			return err
		}
		p.RoomID = core.RoomID(roomID)

		return nil
	}

	var obj struct {
		RoomID core.RoomID `json:"roomId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.RoomID = obj.RoomID

	return nil
}

type JoinRpc struct {
	jsonRpcHead
	Params JoinParams `json:"params"`
}

func NewJoinRpc(roomID core.RoomID) *JoinRpc {
	return &JoinRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  JoinMethod,
		},
		Params: JoinParams{RoomID: roomID},
	}
}

func (r JoinRpc) GetMethod() Method {
	return r.Method
}

func (r JoinRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}

type LeaveRpc struct {
	jsonRpcHead
	Params interface{} `json:"params"`
}

func NewLeaveRpc() *LeaveRpc {
	return &LeaveRpc{
		jsonRpcHead: jsonRpcHead{
			Version: jsonRpcVersion,
			Method:  LeaveMethod,
		},
		Params: nil,
	}
}

func (r LeaveRpc) GetMethod() Method {
	return r.Method
}

func (r LeaveRpc) ToJSON() ([]byte, error) {
	return json.Marshal(r)
}
