package emu

import "fmt"

// Behavior selects between hardware-manual semantics and the quirks of the
// x86 emulator shipped with Windows on ARM, for the few opcodes where the
// two disagree.
type Behavior uint8

// Supported behaviors.
const (
	BehaviorSpecification Behavior = iota
	BehaviorWindowsARMEmulator
)

// ParseBehavior accepts "specification" or "windows-arm-emu".
func ParseBehavior(name string) (Behavior, error) {
	switch name {
	case "specification":
		return BehaviorSpecification, nil
	case "windows-arm-emu":
		return BehaviorWindowsARMEmulator, nil
	}
	return 0, fmt.Errorf("invalid behavior name %q", name)
}

func (b Behavior) String() string {
	switch b {
	case BehaviorSpecification:
		return "specification"
	case BehaviorWindowsARMEmulator:
		return "windows-arm-emu"
	}
	return fmt.Sprintf("Behavior(%d)", uint8(b))
}
