package benchmarks

import (
	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/insts"
)

// GetMicrobenchmarks returns the standard set of microbenchmarks. Each one
// targets a specific characteristic of the timing model. All of them exit
// with the status held in ebx.
func GetMicrobenchmarks() []Benchmark {
	return []Benchmark{
		arithmeticSequential(),
		dependencyChain(),
		memorySequential(),
		functionCalls(),
		branchTaken(),
		mixedOperations(),
		matrixMultiply2x2(),
		loopSimulation(),
	}
}

// GetCoreBenchmarks returns a minimal set for quick validation: a loop, a
// matrix multiply and branch-heavy code.
func GetCoreBenchmarks() []Benchmark {
	return []Benchmark{
		loopSimulation(),
		matrixMultiply2x2(),
		branchTaken(),
	}
}

func arithmeticSequential() Benchmark {
	regs := []uint8{insts.EBX, insts.ECX, insts.EDX, insts.ESI, insts.EDI}
	var code [][]byte
	for i := 0; i < 20; i++ {
		code = append(code, EncodeAddImm(regs[i%len(regs)], 1))
	}
	code = append(code, EncodeExit())

	return Benchmark{
		Name:         "arithmetic_sequential",
		Description:  "20 independent ADDs over five registers - measures ALU throughput",
		Program:      BuildProgram(code...),
		ExpectedExit: 4,
	}
}

func dependencyChain() Benchmark {
	return Benchmark{
		Name:         "dependency_chain",
		Description:  "20 dependent ADDs (ebx += 1) - measures serial ALU latency",
		Program:      buildDependencyChain(20),
		ExpectedExit: 20,
	}
}

func buildDependencyChain(n int) []byte {
	code := make([][]byte, 0, n+1)
	for i := 0; i < n; i++ {
		code = append(code, EncodeAddImm(insts.EBX, 1))
	}
	code = append(code, EncodeExit())
	return BuildProgram(code...)
}

func memorySequential() Benchmark {
	var code [][]byte
	for i := int8(0); i < 10; i++ {
		code = append(code,
			EncodeStore(insts.ESI, i*4, insts.EBX),
			EncodeLoad(insts.EBX, insts.ESI, i*4))
	}
	code = append(code, EncodeExit())

	return Benchmark{
		Name:        "memory_sequential",
		Description: "10 store/load pairs to sequential words - measures memory latency",
		Setup: func(regs *emu.RegFile, memory *emu.Memory) {
			regs.WriteUnreported(insts.ESI, 32, DataAddr)
			regs.WriteUnreported(insts.EBX, 32, 42)
		},
		Program:      BuildProgram(code...),
		ExpectedExit: 42,
	}
}

func functionCalls() Benchmark {
	const calls = 5
	const callSize = 5
	exitSize := int32(len(EncodeExit()))
	fn := int32(calls*callSize) + exitSize

	var code [][]byte
	for i := int32(0); i < calls; i++ {
		code = append(code, EncodeCall(fn-(i+1)*callSize))
	}
	code = append(code,
		EncodeExit(),
		EncodeAddImm(insts.EBX, 1),
		EncodeRet())

	return Benchmark{
		Name:         "function_calls",
		Description:  "5 calls to a leaf function - measures call/return overhead",
		Program:      BuildProgram(code...),
		ExpectedExit: calls,
	}
}

func branchTaken() Benchmark {
	skipped := EncodeAddImm(insts.EBX, 100)

	var code [][]byte
	for i := 0; i < 5; i++ {
		code = append(code,
			EncodeJmp(int8(len(skipped))),
			skipped,
			EncodeAddImm(insts.EBX, 1))
	}
	code = append(code, EncodeExit())

	return Benchmark{
		Name:         "branch_taken",
		Description:  "5 taken jumps over dead code - measures the taken-branch penalty",
		Program:      BuildProgram(code...),
		ExpectedExit: 5,
	}
}

func mixedOperations() Benchmark {
	return Benchmark{
		Name:        "mixed_operations",
		Description: "Moves, a multiply and memory traffic - a balanced workload",
		Setup: func(regs *emu.RegFile, memory *emu.Memory) {
			regs.WriteUnreported(insts.ESI, 32, DataAddr)
		},
		Program: BuildProgram(
			EncodeMovImm(insts.EBX, 3),
			EncodeMovImm(insts.ECX, 4),
			EncodeImulReg(insts.EBX, insts.ECX), // 12
			EncodeStore(insts.ESI, 0, insts.EBX),
			EncodeAddImm(insts.EBX, 1), // 13
			EncodeLoad(insts.EDX, insts.ESI, 0),
			EncodeAddReg(insts.EBX, insts.EDX), // 25
			EncodeExit(),
		),
		ExpectedExit: 25,
	}
}

// matrixMultiply2x2 multiplies A=[[1,2],[3,4]] by B=[[5,6],[7,8]], stores C
// and exits with the sum of C's elements.
func matrixMultiply2x2() Benchmark {
	const a, b, c = 0, 16, 32

	var code [][]byte
	for i := int8(0); i < 2; i++ {
		for j := int8(0); j < 2; j++ {
			code = append(code,
				EncodeLoad(insts.EAX, insts.ESI, a+i*8),
				EncodeLoad(insts.ECX, insts.ESI, b+j*4),
				EncodeImulReg(insts.EAX, insts.ECX),
				EncodeLoad(insts.EDX, insts.ESI, a+i*8+4),
				EncodeLoad(insts.ECX, insts.ESI, b+8+j*4),
				EncodeImulReg(insts.EDX, insts.ECX),
				EncodeAddReg(insts.EAX, insts.EDX),
				EncodeStore(insts.ESI, c+i*8+j*4, insts.EAX),
				EncodeAddReg(insts.EBX, insts.EAX))
		}
	}
	code = append(code, EncodeExit())

	return Benchmark{
		Name:        "matrix_multiply_2x2",
		Description: "2x2 integer matrix multiply - loads, multiplies and stores",
		Setup: func(regs *emu.RegFile, memory *emu.Memory) {
			regs.WriteUnreported(insts.ESI, 32, DataAddr)
			for k, v := range []uint32{1, 2, 3, 4, 5, 6, 7, 8} {
				_ = memory.Write32(DataAddr+uint32(k)*4, v)
			}
		},
		Program:      BuildProgram(code...),
		ExpectedExit: 19 + 22 + 43 + 50,
	}
}

func loopSimulation() Benchmark {
	body := BuildProgram(
		EncodeAddImm(insts.EBX, 1),
		EncodeDec(insts.ECX),
	)
	back := -int8(len(body) + 2)

	return Benchmark{
		Name:        "loop_simulation",
		Description: "10 iterations of a counted loop - measures loop-carried branches",
		Program: BuildProgram(
			EncodeMovImm(insts.ECX, 10),
			body,
			EncodeJcc(CondNE, back),
			EncodeExit(),
		),
		ExpectedExit: 10,
	}
}
