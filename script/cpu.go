package script

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/insts"
)

// cpu exposes an emulator to Starlark. Register access through it is
// unreported so hooks never show up in provenance.
type cpu struct {
	e *emu.Emulator
}

var (
	_ starlark.HasAttrs    = (*cpu)(nil)
	_ starlark.HasSetField = (*cpu)(nil)
)

func newCPU(e *emu.Emulator) *cpu {
	return &cpu{e: e}
}

func (c *cpu) String() string        { return fmt.Sprintf("<cpu eip=%08X>", c.e.Regs().EIP) }
func (c *cpu) Type() string          { return "cpu" }
func (c *cpu) Freeze()               {}
func (c *cpu) Truth() starlark.Bool  { return starlark.True }
func (c *cpu) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: cpu") }

type cpuMethod func(c *cpu, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

var cpuMethods = map[string]cpuMethod{
	"read8":       readMethod(8),
	"read16":      readMethod(16),
	"read32":      readMethod(32),
	"write8":      writeMethod(8),
	"write16":     writeMethod(16),
	"write32":     writeMethod(32),
	"read_string": (*cpu).readString,
	"symbol":      (*cpu).symbol,
	"flag":        (*cpu).flag,
}

var flagBits = map[string]uint32{
	"cf": 0x0001,
	"pf": 0x0004,
	"af": 0x0010,
	"zf": 0x0040,
	"sf": 0x0080,
	"df": 0x0400,
	"of": 0x0800,
}

func (c *cpu) Attr(name string) (starlark.Value, error) {
	regs := c.e.Regs()
	switch name {
	case "eip":
		return starlark.MakeUint(uint(regs.EIP)), nil
	case "eflags":
		return starlark.MakeUint(uint(regs.EFlagsUnreported())), nil
	case "cycles":
		return starlark.MakeUint64(c.e.InstructionCount()), nil
	case "behavior":
		return starlark.String(c.e.Behavior().String()), nil
	}
	if m, ok := cpuMethods[name]; ok {
		return starlark.NewBuiltin(name, func(_ *starlark.Thread, b *starlark.Builtin,
			args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			return m(c, b, args, kwargs)
		}), nil
	}
	ref, err := insts.ParseRegister(name)
	if err != nil || ref.XMM || ref.Flags {
		return nil, nil
	}
	return starlark.MakeUint(uint(regs.ReadUnreported(uint8(ref.Index), ref.Width))), nil
}

func (c *cpu) AttrNames() []string {
	names := []string{"eip", "eflags", "cycles", "behavior",
		"eax", "ecx", "edx", "ebx", "esp", "ebp", "esi", "edi"}
	for name := range cpuMethods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *cpu) SetField(name string, val starlark.Value) error {
	var v uint32
	if err := starlark.AsInt(val, &v); err != nil {
		return fmt.Errorf("cpu.%s: %w", name, err)
	}
	regs := c.e.Regs()
	switch name {
	case "eip":
		regs.EIP = v
		return nil
	case "eflags":
		regs.SetEFlagsUnreported(v)
		return nil
	}
	ref, err := insts.ParseRegister(name)
	if err != nil || ref.XMM || ref.Flags {
		return starlark.NoSuchAttrError(fmt.Sprintf("cpu has no writable register %s", name))
	}
	regs.WriteUnreported(uint8(ref.Index), ref.Width, v)
	return nil
}

func readMethod(width uint8) cpuMethod {
	return func(c *cpu, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint32
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addr); err != nil {
			return nil, err
		}
		mem := c.e.Memory()
		var v uint32
		var err error
		switch width {
		case 8:
			var b8 uint8
			b8, err = mem.Read8(addr)
			v = uint32(b8)
		case 16:
			var w uint16
			w, err = mem.Read16(addr)
			v = uint32(w)
		default:
			v, err = mem.Read32(addr)
		}
		if err != nil {
			return nil, err
		}
		return starlark.MakeUint(uint(v)), nil
	}
}

func writeMethod(width uint8) cpuMethod {
	return func(c *cpu, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var addr uint32
		var v int64
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addr, "value", &v); err != nil {
			return nil, err
		}
		mem := c.e.Memory()
		var err error
		switch width {
		case 8:
			err = mem.Write8(addr, uint8(v))
		case 16:
			err = mem.Write16(addr, uint16(v))
		default:
			err = mem.Write32(addr, uint32(v))
		}
		if err != nil {
			return nil, err
		}
		return starlark.None, nil
	}
}

func (c *cpu) readString(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var addr uint32
	maxLen := 256
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "addr", &addr, "max_len?", &maxLen); err != nil {
		return nil, err
	}
	var buf []byte
	for i := 0; i < maxLen; i++ {
		ch, err := c.e.Memory().Read8(addr + uint32(i))
		if err != nil {
			return nil, err
		}
		if ch == 0 {
			break
		}
		buf = append(buf, ch)
	}
	return starlark.String(buf), nil
}

type symbolTable interface {
	Symbol(name string) (uint32, bool)
}

func (c *cpu) symbol(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	st, ok := c.e.Memory().(symbolTable)
	if !ok {
		return starlark.None, nil
	}
	addr, ok := st.Symbol(name)
	if !ok {
		return starlark.None, nil
	}
	return starlark.MakeUint(uint(addr)), nil
}

func (c *cpu) flag(b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	bit, ok := flagBits[name]
	if !ok {
		return nil, fmt.Errorf("%s: unknown flag %q", b.Name(), name)
	}
	return starlark.Bool(c.e.Regs().EFlagsUnreported()&bit != 0), nil
}
