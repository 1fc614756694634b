package orch

// Command is a known command name. Names are mapped once at the boundary.
type Command int

const (
	CommandUnknown Command = iota
	CommandConnect
	CommandCreateStream
	CommandPublish
	CommandPlay
	CommandCloseStream
	CommandDeleteStream
)

var commandNames = map[string]Command{
	"connect":      CommandConnect,
	"createStream": CommandCreateStream,
	"publish":      CommandPublish,
	"play":         CommandPlay,
	"closeStream":  CommandCloseStream,
	"deleteStream": CommandDeleteStream,
}

func ParseCommand(name string) Command {
	return commandNames[name]
}

func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c {
			return name
		}
	}
	return "unknown"
}

// State of one connection.
type State int

const (
	StateUnbound State = iota
	StateBound
	StatePublisherActive
	StateSubscriberActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StatePublisherActive:
		return "publishing"
	case StateSubscriberActive:
		return "playing"
	default:
		return "closed"
	}
}
