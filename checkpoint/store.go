// Package checkpoint persists emulator snapshots in LevelDB, keyed by a
// run name and the instruction count at which they were taken.
package checkpoint

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/sarchlab/x86emu/emu"
	"github.com/sarchlab/x86emu/log"
	"github.com/sarchlab/x86emu/translate"
)

var f = translate.From

var (
	// ErrNotFound is returned when no checkpoint matches a lookup.
	ErrNotFound = errors.New(f("checkpoint not found"))
	// ErrInvalidName is returned for empty names or names containing '/'.
	ErrInvalidName = errors.New(f("invalid checkpoint name"))
)

const (
	keyPrefix = "cp/"
	cpuSuffix = "/cpu"
	memSuffix = "/mem"
)

// Info identifies one stored checkpoint.
type Info struct {
	Name  string
	Cycle uint64
}

func (i Info) String() string {
	return fmt.Sprintf("%s@%d", i.Name, i.Cycle)
}

// Store wraps a LevelDB database holding checkpoints.
type Store struct {
	db     *leveldb.DB
	logger log.Logger
}

// Open opens or creates a store at path. An empty path uses in-memory
// storage.
func Open(path string) (*Store, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database at %s: %w", path, err)
	}

	return &Store{db: db, logger: log.Root()}, nil
}

// OpenMemory creates an in-memory store.
func OpenMemory() (*Store, error) {
	return Open("")
}

// SetLogger replaces the logger checkpoint events go to.
func (s *Store) SetLogger(l log.Logger) {
	s.logger = l
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func checkName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// key orders checkpoints of one name by cycle.
func key(name string, cycle uint64, suffix string) []byte {
	return []byte(fmt.Sprintf("%s%s/%016x%s", keyPrefix, name, cycle, suffix))
}

func parseKey(k []byte) (Info, bool) {
	s := string(k)
	if !strings.HasPrefix(s, keyPrefix) || !strings.HasSuffix(s, cpuSuffix) {
		return Info{}, false
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, keyPrefix), cpuSuffix)
	i := strings.LastIndexByte(s, '/')
	if i < 0 {
		return Info{}, false
	}
	var cycle uint64
	if _, err := fmt.Sscanf(s[i+1:], "%016x", &cycle); err != nil {
		return Info{}, false
	}
	return Info{Name: s[:i], Cycle: cycle}, true
}

// Save stores the CPU state of e and the contents of mem under name at the
// current instruction count.
func (s *Store) Save(name string, e *emu.Emulator, mem *emu.Memory) (Info, error) {
	if err := checkName(name); err != nil {
		return Info{}, err
	}

	var cpu, memory bytes.Buffer
	if err := e.ExportState(&cpu); err != nil {
		return Info{}, fmt.Errorf("failed to export CPU state: %w", err)
	}
	if err := mem.ExportState(&memory); err != nil {
		return Info{}, fmt.Errorf("failed to export memory: %w", err)
	}

	info := Info{Name: name, Cycle: e.InstructionCount()}
	batch := new(leveldb.Batch)
	batch.Put(key(name, info.Cycle, cpuSuffix), cpu.Bytes())
	batch.Put(key(name, info.Cycle, memSuffix), memory.Bytes())
	if err := s.db.Write(batch, nil); err != nil {
		return Info{}, fmt.Errorf("failed to write checkpoint %s: %w", info, err)
	}

	s.logger.Info(log.CheckpointModule, "checkpoint saved",
		"name", name, "cycle", info.Cycle,
		"cpuBytes", cpu.Len(), "memBytes", memory.Len())
	return info, nil
}

// Restore loads the checkpoint name@cycle into e and mem. Neither is
// changed when the checkpoint cannot be decoded.
func (s *Store) Restore(name string, cycle uint64, e *emu.Emulator, mem *emu.Memory) error {
	if err := checkName(name); err != nil {
		return err
	}
	info := Info{Name: name, Cycle: cycle}

	cpu, err := s.get(key(name, cycle, cpuSuffix), info)
	if err != nil {
		return err
	}
	memory, err := s.get(key(name, cycle, memSuffix), info)
	if err != nil {
		return err
	}

	// Memory is decoded aside and swapped in only after the CPU state is
	// accepted.
	staged := emu.NewMemory()
	if err := staged.ImportState(bytes.NewReader(memory)); err != nil {
		return fmt.Errorf("failed to import memory of %s: %w", info, err)
	}
	if err := e.ImportState(bytes.NewReader(cpu)); err != nil {
		return fmt.Errorf("failed to import CPU state of %s: %w", info, err)
	}
	mem.MoveFrom(staged)

	s.logger.Info(log.CheckpointModule, "checkpoint restored", "name", name, "cycle", cycle)
	return nil
}

// RestoreLatest restores the checkpoint of name with the highest cycle.
func (s *Store) RestoreLatest(name string, e *emu.Emulator, mem *emu.Memory) (Info, error) {
	infos, err := s.List(name)
	if err != nil {
		return Info{}, err
	}
	if len(infos) == 0 {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	latest := infos[len(infos)-1]
	return latest, s.Restore(name, latest.Cycle, e, mem)
}

func (s *Store) get(k []byte, info Info) ([]byte, error) {
	data, err := s.db.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, info)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", info, err)
	}
	return data, nil
}

// List returns the checkpoints of name ordered by cycle, or every
// checkpoint ordered by name and cycle when name is empty.
func (s *Store) List(name string) ([]Info, error) {
	prefix := keyPrefix
	if name != "" {
		if err := checkName(name); err != nil {
			return nil, err
		}
		prefix += name + "/"
	}

	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var infos []Info
	for iter.Next() {
		if info, ok := parseKey(iter.Key()); ok {
			infos = append(infos, info)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Name != infos[j].Name {
			return infos[i].Name < infos[j].Name
		}
		return infos[i].Cycle < infos[j].Cycle
	})
	return infos, nil
}

// Delete removes the checkpoint name@cycle. Deleting a missing checkpoint
// is not an error.
func (s *Store) Delete(name string, cycle uint64) error {
	if err := checkName(name); err != nil {
		return err
	}
	batch := new(leveldb.Batch)
	batch.Delete(key(name, cycle, cpuSuffix))
	batch.Delete(key(name, cycle, memSuffix))
	return s.db.Write(batch, nil)
}

// Size returns the number of bytes stored for name@cycle.
func (s *Store) Size(name string, cycle uint64) (int, error) {
	info := Info{Name: name, Cycle: cycle}
	total := 0
	for _, suffix := range []string{cpuSuffix, memSuffix} {
		data, err := s.get(key(name, cycle, suffix), info)
		if err != nil {
			return 0, err
		}
		total += len(data)
	}
	return total, nil
}

// Version returns the CPU state format version of name@cycle.
func (s *Store) Version(name string, cycle uint64) (uint8, error) {
	cpu, err := s.get(key(name, cycle, cpuSuffix), Info{Name: name, Cycle: cycle})
	if err != nil {
		return 0, err
	}
	var version uint8
	if err := binary.Read(bytes.NewReader(cpu), binary.LittleEndian, &version); err != nil {
		return 0, fmt.Errorf("failed to read state version: %w", err)
	}
	return version, nil
}
