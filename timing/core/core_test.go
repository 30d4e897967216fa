package core_test

import (
	"context"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/insts"
	"github.com/sarchlab/x86emu/timing/core"
	"github.com/sarchlab/x86emu/timing/latency"
)

const (
	codeBase uint32 = 0x00401000
	dataBase uint32 = 0x00600000
)

// mov ecx, 3; loop: dec ecx; jnz loop; mov eax, 1; mov ebx, 7; int 0x80
var countdown = []byte{
	0xB9, 0x03, 0x00, 0x00, 0x00,
	0x49,
	0x75, 0xFD,
	0xB8, 0x01, 0x00, 0x00, 0x00,
	0xBB, 0x07, 0x00, 0x00, 0x00,
	0xCD, 0x80,
}

func newCore(code []byte, config *latency.TimingConfig) (*core.Core, *emu.Memory) {
	mem := emu.NewMemory()
	mem.LoadProgram(codeBase, code)
	mem.Map(dataBase, emu.PageSize)
	c := core.NewCore(mem, config,
		emu.WithEntryPoint(codeBase),
		emu.WithSyscallHandler(emu.NewLinuxSyscallHandler(io.Discard, io.Discard)))
	return c, mem
}

var _ = Describe("Core", func() {
	It("should not be halted initially", func() {
		c, _ := newCore(countdown, nil)
		Expect(c.Halted()).To(BeFalse())
		Expect(c.Stats()).To(Equal(core.Stats{}))
		Expect(c.Stats().CPI()).To(BeZero())
		Expect(c.L2()).NotTo(BeNil())
	})

	It("should run to completion", func() {
		c, _ := newCore(countdown, nil)

		code, err := c.Run()
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(int64(7)))
		Expect(c.Halted()).To(BeTrue())
		Expect(c.ExitCode()).To(Equal(int64(7)))
		Expect(c.Emulator().Regs().ReadUnreported32(insts.ECX)).To(BeZero())
	})

	It("should charge class latencies, taken branches and misses", func() {
		c, _ := newCore(countdown, nil)
		_, err := c.Run()
		Expect(err).NotTo(HaveOccurred())

		stats := c.Stats()
		Expect(stats.Instructions).To(Equal(uint64(10)))
		Expect(stats.TakenBranches).To(Equal(uint64(2)))
		// One cold line: L1 miss served by an L2 miss.
		Expect(stats.CacheMisses).To(Equal(uint64(1)))
		Expect(stats.StallCycles).To(Equal(uint64(100)))
		// mov 1 + dec 3 + jnz 3 + taken 2*2 + mov 2 + int 50
		Expect(stats.Cycles - stats.StallCycles).To(Equal(uint64(63)))
		Expect(stats.CPI()).To(BeNumerically("~", 16.3))
	})

	It("should charge data accesses", func() {
		// mov [0x600000], eax; mov eax, [0x600000]
		code := []byte{
			0xA3, 0x00, 0x00, 0x60, 0x00,
			0xA1, 0x00, 0x00, 0x60, 0x00,
		}
		config := latency.DefaultTimingConfig()
		config.L2.Size = 0
		c, _ := newCore(code, config)
		Expect(c.L2()).To(BeNil())

		Expect(c.Step().Err).NotTo(HaveOccurred())
		Expect(c.Step().Err).NotTo(HaveOccurred())

		stats := c.Stats()
		// Code line and data line miss once each, 11 stall cycles apiece.
		Expect(stats.StallCycles).To(Equal(uint64(22)))
		// store 1+1, load 1+3
		Expect(stats.Cycles - stats.StallCycles).To(Equal(uint64(6)))
	})

	It("should not charge failed instructions", func() {
		c, _ := newCore([]byte{0xF1}, nil)

		result := c.Step()
		Expect(result.Err).To(HaveOccurred())
		Expect(c.Stats().Instructions).To(BeZero())
		Expect(c.Stats().Cycles).To(BeZero())

		_, err := c.Run()
		Expect(err).To(HaveOccurred())
	})

	It("should run a bounded number of cycles", func() {
		c, _ := newCore(countdown, nil)

		running, err := c.RunCycles(1)
		Expect(err).NotTo(HaveOccurred())
		Expect(running).To(BeTrue())
		Expect(c.Stats().Instructions).To(Equal(uint64(1)))

		running, err = c.RunCycles(10000)
		Expect(err).NotTo(HaveOccurred())
		Expect(running).To(BeFalse())
	})

	It("should stop on cancellation", func() {
		c, _ := newCore(countdown, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.RunContext(ctx)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("should reset statistics", func() {
		c, _ := newCore(countdown, nil)
		Expect(c.Step().Err).NotTo(HaveOccurred())

		c.Reset()
		Expect(c.Stats()).To(Equal(core.Stats{}))
		Expect(c.L1().Stats().Misses).To(BeZero())
	})
})
