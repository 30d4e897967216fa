package checkpoint

import (
	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/log"
)

// Hook returns a debug hook saving a checkpoint under name every interval
// instructions, starting with the first multiple of interval reached.
func (s *Store) Hook(name string, interval uint64, mem *emu.Memory) emu.DebugHook {
	if interval == 0 {
		return nil
	}
	return func(e *emu.Emulator) error {
		n := e.InstructionCount()
		if n == 0 || n%interval != 0 {
			return nil
		}
		if _, err := s.Save(name, e, mem); err != nil {
			s.logger.Error(log.CheckpointModule, "periodic checkpoint failed",
				"name", name, "cycle", n, "err", err)
			return err
		}
		return nil
	}
}
