package actor

import "sync/atomic"

// KillSwitch is a shared flag checked on every message boundary: tripping
// it causes all actors sharing it to exit with Killed at their next
// checkpoint.
type KillSwitch struct {
	tripped atomic.Bool
}

func NewKillSwitch() *KillSwitch { return &KillSwitch{} }

func (k *KillSwitch) Trip()         { k.tripped.Store(true) }
func (k *KillSwitch) Tripped() bool { return k.tripped.Load() }
