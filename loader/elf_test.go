package loader_test

import (
	"encoding/binary"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/loader"
)

// testSegment describes one PT_LOAD entry for the ELF builders below.
type testSegment struct {
	vaddr   uint32
	data    []byte
	memSize uint32
	flags   uint32
}

var _ = Describe("ELF Loader", func() {
	var tempDir string

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "elf-loader-test")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		_ = os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("with a valid i386 ELF binary", func() {
			var elfPath string

			BeforeEach(func() {
				elfPath = filepath.Join(tempDir, "test.elf")
				createI386ELF(elfPath, 0x08048010, []testSegment{{
					vaddr: 0x08048000,
					data: []byte{
						0xB8, 0x2A, 0x00, 0x00, 0x00, // mov eax, 42
						0xC3, // ret
					},
					flags: 0x5,
				}})
			})

			It("should load without error", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog).NotTo(BeNil())
			})

			It("should extract the correct entry point", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.EntryPoint).To(Equal(uint32(0x08048010)))
			})

			It("should load segments", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(1))
				Expect(prog.Segments[0].VirtAddr).To(Equal(uint32(0x08048000)))
				Expect(prog.Segments[0].Data).To(HaveLen(6))
			})

			It("should set up the initial stack pointer", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.InitialSP).To(Equal(uint32(loader.DefaultStackTop)))
				Expect(prog.StackSize).To(Equal(uint32(loader.DefaultStackSize)))
			})

			It("should return an empty symbol table for a stripped binary", func() {
				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Symbols).To(BeEmpty())
			})
		})

		Context("with an invalid file", func() {
			It("should return error for non-existent file", func() {
				_, err := loader.Load("/nonexistent/path/to/file.elf")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to open"))
			})

			It("should return error for non-ELF file", func() {
				notElfPath := filepath.Join(tempDir, "not-elf.bin")
				err := os.WriteFile(notElfPath, []byte("not an elf file"), 0644)
				Expect(err).NotTo(HaveOccurred())

				_, err = loader.Load(notElfPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("ELF"))
			})

			It("should return error for empty file", func() {
				emptyPath := filepath.Join(tempDir, "empty.elf")
				err := os.WriteFile(emptyPath, []byte{}, 0644)
				Expect(err).NotTo(HaveOccurred())

				_, err = loader.Load(emptyPath)
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with a 32-bit ELF for another machine", func() {
			It("should return error for ARM", func() {
				elfPath := filepath.Join(tempDir, "arm.elf")
				createELF32(elfPath, 40, 0x10000, nil)

				_, err := loader.Load(elfPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not an i386"))
			})
		})

		Context("with 64-bit ELF", func() {
			It("should return error for x86-64 ELF", func() {
				elfPath := filepath.Join(tempDir, "x86_64.elf")
				createMinimalELF64(elfPath)

				_, err := loader.Load(elfPath)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("not a 32-bit"))
			})
		})

		Context("with multiple segments", func() {
			It("should load code and data segments with their permissions", func() {
				elfPath := filepath.Join(tempDir, "multi.elf")
				createI386ELF(elfPath, 0x08048000, []testSegment{
					{vaddr: 0x08048000, data: []byte{0x90, 0xC3}, flags: 0x5},
					{vaddr: 0x08049000, data: []byte{1, 2, 3, 4}, flags: 0x6},
				})

				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(HaveLen(2))

				code := prog.Segments[0]
				Expect(code.Flags & loader.SegmentFlagExecute).NotTo(BeZero())
				Expect(code.Flags & loader.SegmentFlagRead).NotTo(BeZero())
				Expect(code.Flags & loader.SegmentFlagWrite).To(BeZero())

				data := prog.Segments[1]
				Expect(data.VirtAddr).To(Equal(uint32(0x08049000)))
				Expect(data.Data).To(Equal([]byte{1, 2, 3, 4}))
				Expect(data.Flags & loader.SegmentFlagWrite).NotTo(BeZero())
				Expect(data.Flags & loader.SegmentFlagExecute).To(BeZero())
			})
		})

		Context("with a BSS segment", func() {
			It("should keep the memory size larger than the file size", func() {
				elfPath := filepath.Join(tempDir, "bss.elf")
				createI386ELF(elfPath, 0x08048000, []testSegment{
					{vaddr: 0x08048000, data: []byte{0xAA, 0xBB}, memSize: 0x2000, flags: 0x6},
				})

				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments[0].Data).To(HaveLen(2))
				Expect(prog.Segments[0].MemSize).To(Equal(uint32(0x2000)))
			})

			It("should accept a segment with no file contents", func() {
				elfPath := filepath.Join(tempDir, "zero.elf")
				createI386ELF(elfPath, 0x08048000, []testSegment{
					{vaddr: 0x0804A000, memSize: 0x100, flags: 0x6},
				})

				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments[0].Data).To(BeEmpty())
				Expect(prog.Segments[0].MemSize).To(Equal(uint32(0x100)))
			})
		})

		Context("with no loadable segments", func() {
			It("should return a program with no segments", func() {
				elfPath := filepath.Join(tempDir, "no-load.elf")
				createI386ELF(elfPath, 0x08048000, nil)

				prog, err := loader.Load(elfPath)
				Expect(err).NotTo(HaveOccurred())
				Expect(prog.Segments).To(BeEmpty())
				Expect(prog.EntryPoint).To(Equal(uint32(0x08048000)))
			})
		})
	})

	Describe("LoadRaw", func() {
		It("should wrap the file as one executable segment", func() {
			rawPath := filepath.Join(tempDir, "code.bin")
			Expect(os.WriteFile(rawPath, []byte{0x90, 0xF4}, 0644)).To(Succeed())

			prog, err := loader.LoadRaw(rawPath, 0x00401000)
			Expect(err).NotTo(HaveOccurred())
			Expect(prog.EntryPoint).To(Equal(uint32(0x00401000)))
			Expect(prog.Segments).To(HaveLen(1))
			Expect(prog.Segments[0].Data).To(Equal([]byte{0x90, 0xF4}))
			Expect(prog.Segments[0].Flags & loader.SegmentFlagExecute).NotTo(BeZero())
		})

		It("should reject an empty file", func() {
			rawPath := filepath.Join(tempDir, "empty.bin")
			Expect(os.WriteFile(rawPath, nil, 0644)).To(Succeed())

			_, err := loader.LoadRaw(rawPath, 0x00401000)
			Expect(err).To(HaveOccurred())
		})

		It("should return error for a missing file", func() {
			_, err := loader.LoadRaw(filepath.Join(tempDir, "missing.bin"), 0x00401000)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("failed to read"))
		})
	})

	Describe("Program", func() {
		var prog *loader.Program

		BeforeEach(func() {
			prog = &loader.Program{
				EntryPoint: 0x08048000,
				Segments: []loader.Segment{
					{VirtAddr: 0x08048000, Data: []byte{0x90, 0xC3}, MemSize: 2},
					{VirtAddr: 0x08049000, Data: []byte{0x11, 0x22}, MemSize: 0x1800},
				},
				InitialSP: 0x00800000,
				StackSize: 0x2000,
				Symbols:   map[string]uint32{"main": 0x08048000},
			}
		})

		It("should report the page-aligned end as the initial break", func() {
			Expect(prog.End()).To(Equal(uint32(0x0804B000)))
		})

		It("should copy segments into memory", func() {
			mem := emu.NewMemory()
			Expect(prog.LoadInto(mem)).To(Succeed())

			data, err := mem.ReadBytes(0x08048000, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte{0x90, 0xC3}))

			v, err := mem.Read16(0x08049000)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint16(0x2211)))
		})

		It("should map and zero the BSS part of a segment", func() {
			mem := emu.NewMemory()
			Expect(prog.LoadInto(mem)).To(Succeed())

			Expect(mem.IsMapped(0x08049000, 0x1800)).To(BeTrue())
			v, err := mem.Read32(0x080497FC)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeZero())
		})

		It("should map the stack below the initial stack pointer", func() {
			mem := emu.NewMemory()
			Expect(prog.LoadInto(mem)).To(Succeed())

			Expect(mem.IsMapped(0x007FE000, 0x2000)).To(BeTrue())
			Expect(mem.IsMapped(0x00800000, 1)).To(BeFalse())
		})

		It("should register symbols", func() {
			mem := emu.NewMemory()
			Expect(prog.LoadInto(mem)).To(Succeed())

			addr, ok := mem.Symbol("main")
			Expect(ok).To(BeTrue())
			Expect(addr).To(Equal(uint32(0x08048000)))
		})
	})
})

// createI386ELF creates an i386 ELF32 executable with the given segments.
func createI386ELF(path string, entryPoint uint32, segs []testSegment) {
	createELF32(path, 3, entryPoint, segs)
}

// createELF32 writes a little-endian ELF32 executable for machine with one
// PT_LOAD program header per segment and no section headers.
func createELF32(path string, machine uint16, entryPoint uint32, segs []testSegment) {
	le := binary.LittleEndian

	// ELF Header (52 bytes)
	elfHeader := make([]byte, 52)
	copy(elfHeader[0:4], []byte{0x7f, 'E', 'L', 'F'})
	elfHeader[4] = 1                                  // 32-bit
	elfHeader[5] = 1                                  // little endian
	elfHeader[6] = 1                                  // version
	le.PutUint16(elfHeader[16:18], 2)                 // executable
	le.PutUint16(elfHeader[18:20], machine)           // machine
	le.PutUint32(elfHeader[20:24], 1)                 // version
	le.PutUint32(elfHeader[24:28], entryPoint)        // entry
	le.PutUint32(elfHeader[28:32], 52)                // phoff
	le.PutUint16(elfHeader[40:42], 52)                // ehsize
	le.PutUint16(elfHeader[42:44], 32)                // phentsize
	le.PutUint16(elfHeader[44:46], uint16(len(segs))) // phnum
	le.PutUint16(elfHeader[46:48], 40)                // shentsize

	// Segment contents follow the program headers.
	offset := uint32(52 + 32*len(segs))
	var progHeaders, contents []byte
	for _, seg := range segs {
		memSize := seg.memSize
		if memSize == 0 {
			memSize = uint32(len(seg.data))
		}

		ph := make([]byte, 32)
		le.PutUint32(ph[0:4], 1) // PT_LOAD
		le.PutUint32(ph[4:8], offset)
		le.PutUint32(ph[8:12], seg.vaddr)
		le.PutUint32(ph[12:16], seg.vaddr)
		le.PutUint32(ph[16:20], uint32(len(seg.data)))
		le.PutUint32(ph[20:24], memSize)
		le.PutUint32(ph[24:28], seg.flags)
		le.PutUint32(ph[28:32], 0x1000)

		progHeaders = append(progHeaders, ph...)
		contents = append(contents, seg.data...)
		offset += uint32(len(seg.data))
	}

	file, _ := os.Create(path)
	defer func() { _ = file.Close() }()

	_, _ = file.Write(elfHeader)
	_, _ = file.Write(progHeaders)
	_, _ = file.Write(contents)
}

// createMinimalELF64 creates a minimal x86-64 ELF to test rejection.
func createMinimalELF64(path string) {
	elfHeader := make([]byte, 64)

	copy(elfHeader[0:4], []byte{0x7f, 'E', 'L', 'F'})
	elfHeader[4] = 2                                    // 64-bit
	elfHeader[5] = 1                                    // little endian
	elfHeader[6] = 1                                    // version
	binary.LittleEndian.PutUint16(elfHeader[16:18], 2)  // executable
	binary.LittleEndian.PutUint16(elfHeader[18:20], 62) // x86-64
	binary.LittleEndian.PutUint32(elfHeader[20:24], 1)  // version
	binary.LittleEndian.PutUint64(elfHeader[32:40], 64) // phoff
	binary.LittleEndian.PutUint16(elfHeader[52:54], 64) // ehsize
	binary.LittleEndian.PutUint16(elfHeader[54:56], 56) // phentsize

	file, _ := os.Create(path)
	defer func() { _ = file.Close() }()
	_, _ = file.Write(elfHeader)
}
