package plist

import (
	"bytes"
	"fmt"
	"io"

	applist "howett.net/plist"
)

// Format selects the on-disk plist encoding for Write.
type Format int

const (
	XMLFormat Format = iota
	BinaryFormat
)

// Tree is the decoded shape of a property list: dict keys map to
// strings, numbers, bools, []byte, time.Time, []any, or nested Tree.
type Tree = map[string]any

// Read decodes a property list, auto-detecting XML vs binary format.
func Read(r io.Reader) (Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("plist: read: %w", err)
	}
	return Unmarshal(data)
}

// Unmarshal decodes a property list already held in memory.
func Unmarshal(data []byte) (Tree, error) {
	var tree Tree
	if _, err := applist.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("plist: decode: %w", err)
	}
	return tree, nil
}

// UnmarshalInto decodes a property list into a caller-supplied struct,
// using the same `plist:"Key"` field tags howett.net/plist understands.
func UnmarshalInto(data []byte, v any) error {
	if _, err := applist.Unmarshal(data, v); err != nil {
		return fmt.Errorf("plist: decode: %w", err)
	}
	return nil
}

// Write encodes v (a Tree or tagged struct) to w in the given format.
func Write(w io.Writer, v any, format Format) error {
	enc := applist.NewEncoder(w)
	enc.Indent("\t")
	if format == BinaryFormat {
		enc = applist.NewBinaryEncoder(w)
	}
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("plist: encode: %w", err)
	}
	return nil
}

// Marshal encodes v and returns the bytes.
func Marshal(v any, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, v, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
