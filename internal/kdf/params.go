package kdf

import (
	"fmt"

	"github.com/pkg/errors"
)

// BlockSize is the Balloon block size, equal to the BLAKE3 digest length.
const BlockSize = 32

// KeySize is the length of every derived key.
const KeySize = 32

const (
	maxMemoryCost = 1 << 30
	maxTimeCost   = 1 << 8
	minBlocks     = 4
)

// Version names an immutable set of cost parameters. Headers store only the
// tag; the numbers come from the table below.
type Version uint8

const (
	V4 Version = 4
	V5 Version = 5

	// Latest is used for new files unless configured otherwise.
	Latest = V5
)

// Params are the cost parameters of a Version.
type Params struct {
	// MemoryCost is the size of the working buffer in bytes. It must be a
	// multiple of BlockSize.
	MemoryCost uint32
	// TimeCost is the number of mixing rounds.
	TimeCost uint32
	// Parallelism is fixed at 1.
	Parallelism uint32
	// Description is shown by header inspection.
	Description string
}

// Blocks returns the number of BlockSize blocks in the working buffer.
func (p Params) Blocks() int {
	return int(p.MemoryCost / BlockSize)
}

func (p Params) validate() error {
	switch {
	case p.MemoryCost%BlockSize != 0:
		return errors.Errorf("memory cost %d is not a multiple of %d", p.MemoryCost, BlockSize)
	case p.Blocks() < minBlocks:
		return errors.Errorf("memory cost %d below minimum of %d bytes", p.MemoryCost, minBlocks*BlockSize)
	case p.MemoryCost > maxMemoryCost:
		return errors.Errorf("memory cost %d above maximum of %d bytes", p.MemoryCost, maxMemoryCost)
	case p.TimeCost < 1 || p.TimeCost > maxTimeCost:
		return errors.Errorf("time cost %d out of bounds (1-%d)", p.TimeCost, maxTimeCost)
	case p.Parallelism != 1:
		return errors.Errorf("parallelism must be 1, got %d", p.Parallelism)
	}
	return nil
}

// builtin must never be edited once a version has shipped: files on disk
// name these tags and expect identical costs.
var builtin = map[Version]Params{
	V4: {MemoryCost: 262_144 * BlockSize, TimeCost: 1, Parallelism: 1, Description: "older parameters (8 MiB memory cost)"},
	V5: {MemoryCost: 278_528 * BlockSize, TimeCost: 1, Parallelism: 1, Description: "current recommended parameters (8.5 MiB memory cost)"},
}

func (v Version) String() string {
	return fmt.Sprintf("BLAKE3-Balloon v%d", uint8(v))
}
