package machoprobe

import (
	"bytes"
	"fmt"
	"io"
	"os"

	macho "github.com/blacktop/go-macho"
)

// IsMachO reports whether path begins with a recognized Mach-O magic
// number (thin 32/64-bit or fat), based on the first four bytes only.
func IsMachO(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return false
	}
	return isMachOMagic(magic)
}

func isMachOMagic(magic []byte) bool {
	return (magic[0] == 0xcf && magic[1] == 0xfa && magic[2] == 0xed && magic[3] == 0xfe) || // MH_MAGIC_64
		(magic[0] == 0xce && magic[1] == 0xfa && magic[2] == 0xed && magic[3] == 0xfe) || // MH_MAGIC
		(magic[0] == 0xca && magic[1] == 0xfe && magic[2] == 0xba && magic[3] == 0xbe) || // FAT_MAGIC
		(magic[0] == 0xca && magic[1] == 0xfe && magic[2] == 0xba && magic[3] == 0xbf) // FAT_MAGIC_64
}

// IsEncrypted reports whether any architecture slice carries a
// non-zero LC_ENCRYPTION_INFO(_64) CryptID — i.e. the binary is
// FairPlay-encrypted and cannot be resigned without first decrypting it.
func IsEncrypted(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("machoprobe: read %s: %w", path, err)
	}

	if fat, err := macho.NewFatFile(bytes.NewReader(data)); err == nil {
		defer fat.Close()
		for _, arch := range fat.Arches {
			if archEncrypted(arch.File) {
				return true, nil
			}
		}
		return false, nil
	}

	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("machoprobe: parse %s: %w", path, err)
	}
	defer m.Close()
	return archEncrypted(m), nil
}

func archEncrypted(m *macho.File) bool {
	for _, load := range m.Loads {
		switch e := load.(type) {
		case *macho.EncryptionInfo:
			if e.CryptID != 0 {
				return true
			}
		case *macho.EncryptionInfo64:
			if e.CryptID != 0 {
				return true
			}
		}
	}
	return false
}

// ReadEntitlements returns the XML entitlements embedded in the
// binary's existing code signature, or "" if it has none. A malformed
// Mach-O yields "", nil rather than an error: the caller proceeds as
// if the binary carried no entitlements to preserve.
func ReadEntitlements(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("machoprobe: read %s: %w", path, err)
	}

	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		fat, ferr := macho.NewFatFile(bytes.NewReader(data))
		if ferr != nil || len(fat.Arches) == 0 {
			return "", nil
		}
		defer fat.Close()
		m = fat.Arches[0].File
	} else {
		defer m.Close()
	}

	cs := m.CodeSignature()
	if cs == nil {
		return "", nil
	}
	return cs.Entitlements, nil
}

// ImportedLibraries returns the load-time dependency list (LC_LOAD_DYLIB
// and its weak/upward/reexport variants) for a thin or fat binary's
// first architecture slice.
func ImportedLibraries(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("machoprobe: read %s: %w", path, err)
	}

	m, err := macho.NewFile(bytes.NewReader(data))
	if err != nil {
		fat, ferr := macho.NewFatFile(bytes.NewReader(data))
		if ferr != nil || len(fat.Arches) == 0 {
			return nil, fmt.Errorf("machoprobe: parse %s: %w", path, err)
		}
		defer fat.Close()
		return fat.Arches[0].File.ImportedLibraries(), nil
	}
	defer m.Close()
	return m.ImportedLibraries(), nil
}
