package app

import (
	"fmt"

	"github.com/lem-onair/lemonair-streaming/internal/core"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropMessage
	KickSubscriber
)

func (a BackpressureAction) String() string {
	switch a {
	case DropMessage:
		return "drop"
	case KickSubscriber:
		return "kick"
	default:
		return "none"
	}
}

// Policy decides what happens to a subscriber whose send queue is full.
type Policy interface {
	OnBackPressure(stream core.Stream, sub core.Conn) BackpressureAction
}

// SimplePolicy drops slow subscribers.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.Stream, core.Conn) BackpressureAction {
	return KickSubscriber
}

// LenientPolicy keeps slow subscribers and lets them miss messages.
type LenientPolicy struct{}

func (LenientPolicy) OnBackPressure(core.Stream, core.Conn) BackpressureAction {
	return DropMessage
}

// PolicyByName maps the config value to a policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "kick":
		return SimplePolicy{}, nil
	case "drop":
		return LenientPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown slow subscriber policy %q", name)
	}
}
