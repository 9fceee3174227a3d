package depsolve

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/blacktop/go-macho/types"
)

// writeThinMachO returns the bytes of a minimal thin 64-bit Mach-O
// binary with one LC_LOAD_DYLIB command per entry in dylibs, so Solve can be
// exercised against real files rather than only the in-memory graph
// helpers.
func writeThinMachO(t *testing.T, dylibs []string) []byte {
	t.Helper()
	bo := binary.LittleEndian

	var cmds bytes.Buffer
	for _, name := range dylibs {
		nameBytes := append([]byte(name), 0)
		for len(nameBytes)%4 != 0 {
			nameBytes = append(nameBytes, 0)
		}
		dylib := types.DylibCmd{
			LoadCmd:        types.LC_LOAD_DYLIB,
			Len:            uint32(24 + len(nameBytes)),
			NameOffset:     24,
			CurrentVersion: types.Version(0x00010000),
			CompatVersion:  types.Version(0x00010000),
		}
		if err := binary.Write(&cmds, bo, dylib); err != nil {
			t.Fatalf("write dylib cmd: %v", err)
		}
		cmds.Write(nameBytes)
	}

	header := types.FileHeader{
		Magic:        types.Magic64,
		CPU:          types.CPUArm64,
		Type:         types.MH_EXECUTE,
		NCommands:    uint32(len(dylibs)),
		SizeCommands: uint32(cmds.Len()),
	}
	headerBytes := make([]byte, types.FileHeaderSize64)
	header.Put(headerBytes, bo)

	var out bytes.Buffer
	out.Write(headerBytes)
	out.Write(cmds.Bytes())
	return out.Bytes()
}
