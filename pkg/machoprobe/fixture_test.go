package machoprobe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/blacktop/go-macho/types"
)

// buildThinMachO assembles a minimal, valid thin 64-bit Mach-O binary
// with one LC_LOAD_DYLIB command per entry in dylibs and, when
// withEncryption is true, a trailing LC_ENCRYPTION_INFO_64 command
// carrying cryptID. It exists so IsEncrypted and ImportedLibraries can
// be driven against a real go-macho parse rather than a synthetic
// magic-number byte slice.
func buildThinMachO(t *testing.T, dylibs []string, withEncryption bool, cryptID uint32) []byte {
	t.Helper()
	bo := binary.LittleEndian

	var cmds bytes.Buffer
	var ncmds uint32

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
		ncmds++
	}

	if withEncryption {
		enc := types.EncryptionInfo64Cmd{
			LoadCmd: types.LC_ENCRYPTION_INFO_64,
			Len:     24,
			Offset:  0,
			Size:    0,
			CryptID: types.EncryptionSystem(cryptID),
		}
		if err := binary.Write(&cmds, bo, enc); err != nil {
			t.Fatalf("write encryption cmd: %v", err)
		}
		ncmds++
	}

	header := types.FileHeader{
		Magic:        types.Magic64,
		CPU:          types.CPUArm64,
		Type:         types.MH_EXECUTE,
		NCommands:    ncmds,
		SizeCommands: uint32(cmds.Len()),
	}
	headerBytes := make([]byte, types.FileHeaderSize64)
	header.Put(headerBytes, bo)

	var out bytes.Buffer
	out.Write(headerBytes)
	out.Write(cmds.Bytes())
	return out.Bytes()
}
