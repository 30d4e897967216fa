package emu

// DebugHook is called before every instruction. Returning ErrTerminate
// stops execution cleanly; any other error is returned from Step. Register
// and memory accesses made by the hook are not attributed to the
// instruction that follows.
type DebugHook func(e *Emulator) error

// ChainDebugHooks returns a hook calling each non-nil hook in order until
// one fails.
func ChainDebugHooks(hooks ...DebugHook) DebugHook {
	var active []DebugHook
	for _, h := range hooks {
		if h != nil {
			active = append(active, h)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(e *Emulator) error {
		for _, h := range active {
			if err := h(e); err != nil {
				return err
			}
		}
		return nil
	}
}
