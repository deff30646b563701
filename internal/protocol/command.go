package protocol

import "context"

// Robot api ids understood by the hardware bridge
const (
	AudioAPIID      = 1003
	BrightnessAPIID = 1005
	LightAPIID      = 1007
)

// Command is a downstream instruction for the robot hardware
type Command struct {
	APIID     int                    `json:"api_id"`
	Parameter map[string]interface{} `json:"parameter"`
}

// CommandSink delivers commands to the hardware abstraction
type CommandSink interface {
	Send(ctx context.Context, cmd Command) error
}

func VideoCommand(enabled bool) Command {
	color := "OFF"
	if enabled {
		color = "CYAN"
	}

	return Command{
		APIID:     LightAPIID,
		Parameter: map[string]interface{}{"color": color, "time": 1},
	}
}

func AudioCommand(enabled bool) Command {
	volume := 0
	if enabled {
		volume = 10
	}

	return Command{
		APIID:     AudioAPIID,
		Parameter: map[string]interface{}{"volume": volume},
	}
}

func TrafficSavingCommand(instruction string) Command {
	brightness := 5
	if instruction == "on" {
		brightness = 10
	}

	return Command{
		APIID:     BrightnessAPIID,
		Parameter: map[string]interface{}{"brightness": brightness},
	}
}
