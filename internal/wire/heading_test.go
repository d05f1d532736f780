package wire

import (
	"bytes"
	"testing"

	"github.com/libbitcoin/network/internal/errcode"
)

func TestHeadingRoundTrip(t *testing.T) {
	payload := []byte("hello network")
	h := NewHeading(0xd9b4bef9, "ping", payload)

	buf := h.Encode()
	if len(buf) != HeadingSize {
		t.Fatalf("Encode() length = %d, want %d", len(buf), HeadingSize)
	}

	got := DecodeHeading(buf)
	if got.Magic != h.Magic {
		t.Errorf("Magic = %#x, want %#x", got.Magic, h.Magic)
	}
	if got.CommandString() != "ping" {
		t.Errorf("CommandString() = %q, want %q", got.CommandString(), "ping")
	}
	if got.PayloadSize != uint32(len(payload)) {
		t.Errorf("PayloadSize = %d, want %d", got.PayloadSize, len(payload))
	}
	if got.Checksum != Checksum(payload) {
		t.Errorf("Checksum mismatch after round-trip")
	}
}

func TestChecksumIsDoubleSHA256Prefix(t *testing.T) {
	a := Checksum([]byte("a"))
	b := Checksum([]byte("a"))
	c := Checksum([]byte("b"))
	if a != b {
		t.Fatalf("Checksum not deterministic")
	}
	if a == c {
		t.Fatalf("Checksum collided for distinct payloads (statistically implausible, check implementation)")
	}
}

func TestValidateMagic(t *testing.T) {
	h := NewHeading(0x11223344, "verack", nil)
	if err := ValidateMagic(h, 0x11223344); err != nil {
		t.Fatalf("ValidateMagic with matching magic: %v", err)
	}
	err := ValidateMagic(h, 0xaabbccdd)
	if code, ok := errcode.As(err); !ok || code != errcode.InvalidMagic {
		t.Fatalf("ValidateMagic mismatch = %v, want InvalidMagic", err)
	}
}

func TestValidatePayloadSize(t *testing.T) {
	h := Heading{PayloadSize: MaxPayloadPreWitness + 1}
	err := ValidatePayloadSize(h, MaxPayloadPreWitness)
	if code, ok := errcode.As(err); !ok || code != errcode.OversizedPayload {
		t.Fatalf("ValidatePayloadSize over ceiling = %v, want OversizedPayload", err)
	}

	h.PayloadSize = MaxPayloadPreWitness
	if err := ValidatePayloadSize(h, MaxPayloadPreWitness); err != nil {
		t.Fatalf("ValidatePayloadSize at ceiling should pass: %v", err)
	}
}

func TestValidateChecksum(t *testing.T) {
	payload := []byte("payload-bytes")
	h := NewHeading(0, "addr", payload)
	if err := ValidateChecksum(h, payload); err != nil {
		t.Fatalf("ValidateChecksum with matching payload: %v", err)
	}
	err := ValidateChecksum(h, []byte("tampered"))
	if code, ok := errcode.As(err); !ok || code != errcode.InvalidChecksum {
		t.Fatalf("ValidateChecksum with tampered payload = %v, want InvalidChecksum", err)
	}
}

func TestMaximumPayload(t *testing.T) {
	if got := MaximumPayload(BIP144Version, false); got != MaxPayloadPreWitness {
		t.Errorf("witness disabled = %d, want pre-witness ceiling", got)
	}
	if got := MaximumPayload(BIP144Version, true); got != MaxPayloadWitness {
		t.Errorf("witness enabled at BIP144 = %d, want witness ceiling", got)
	}
	if got := MaximumPayload(BIP144Version-1, true); got != MaxPayloadPreWitness {
		t.Errorf("witness enabled pre-BIP144 = %d, want pre-witness ceiling", got)
	}
}

func TestCommandToIDUnknown(t *testing.T) {
	if id := CommandToID("notarealcommand"); id != Unknown {
		t.Errorf("CommandToID(unknown) = %v, want Unknown", id)
	}
	if id := CommandToID("version"); id != Version {
		t.Errorf("CommandToID(version) = %v, want Version", id)
	}
}

func TestHeadingCommandPadding(t *testing.T) {
	h := NewHeading(0, "ping", nil)
	if !bytes.HasPrefix(h.Command[:], []byte("ping")) {
		t.Fatalf("Command should start with 'ping'")
	}
	for i := 4; i < len(h.Command); i++ {
		if h.Command[i] != 0 {
			t.Fatalf("Command padding byte %d = %d, want 0", i, h.Command[i])
		}
	}
}
