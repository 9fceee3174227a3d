package plist

import (
	"bytes"
	"testing"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleIdentifier</key>
	<string>com.example.app</string>
	<key>CFBundleVersion</key>
	<string>1.0</string>
	<key>UIDeviceFamily</key>
	<array>
		<integer>1</integer>
		<integer>2</integer>
	</array>
</dict>
</plist>`

func TestUnmarshal(t *testing.T) {
	tree, err := Unmarshal([]byte(sampleXML))
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if tree["CFBundleIdentifier"] != "com.example.app" {
		t.Errorf("unexpected CFBundleIdentifier: %v", tree["CFBundleIdentifier"])
	}
	family, ok := tree["UIDeviceFamily"].([]any)
	if !ok || len(family) != 2 {
		t.Errorf("unexpected UIDeviceFamily: %v", tree["UIDeviceFamily"])
	}
}

func TestRead(t *testing.T) {
	tree, err := Read(bytes.NewReader([]byte(sampleXML)))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if tree["CFBundleVersion"] != "1.0" {
		t.Errorf("unexpected CFBundleVersion: %v", tree["CFBundleVersion"])
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	tree := Tree{
		"CFBundleIdentifier": "com.example.roundtrip",
		"CFBundleVersion":    "2.0",
	}

	data, err := Marshal(tree, XMLFormat)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	decoded, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal after Marshal failed: %v", err)
	}
	if decoded["CFBundleIdentifier"] != "com.example.roundtrip" {
		t.Errorf("round trip lost CFBundleIdentifier: %v", decoded["CFBundleIdentifier"])
	}
}

func TestUnmarshalInto(t *testing.T) {
	var target struct {
		CFBundleIdentifier string `plist:"CFBundleIdentifier"`
	}
	if err := UnmarshalInto([]byte(sampleXML), &target); err != nil {
		t.Fatalf("UnmarshalInto failed: %v", err)
	}
	if target.CFBundleIdentifier != "com.example.app" {
		t.Errorf("unexpected CFBundleIdentifier: %q", target.CFBundleIdentifier)
	}
}

func TestUnmarshalInvalid(t *testing.T) {
	if _, err := Unmarshal([]byte("not a plist")); err == nil {
		t.Error("expected an error decoding garbage input")
	}
}
