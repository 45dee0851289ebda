package common

import (
	"errors"

	"zkusd/core/state"
)

// ErrEmergencyHalt is returned by every price-consuming operation while the
// protocol registry reports a halt.
var ErrEmergencyHalt = errors.New("emergency halt")

// HaltView exposes the global halt switch read through the caller's
// transaction.
type HaltView interface {
	IsHalted(r state.Reader) (bool, error)
}

// Guard fails closed while the protocol is halted. A nil view never halts.
func Guard(view HaltView, r state.Reader) error {
	if view == nil {
		return nil
	}
	halted, err := view.IsHalted(r)
	if err != nil {
		return err
	}
	if halted {
		return ErrEmergencyHalt
	}
	return nil
}
