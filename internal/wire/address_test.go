package wire

import "testing"

func TestParseAuthorityRoundTrip(t *testing.T) {
	cases := []string{
		"127.0.0.1:8333",
		"[::1]:8333",
	}
	for _, s := range cases {
		a, err := ParseAuthority(s)
		if err != nil {
			t.Fatalf("ParseAuthority(%q): %v", s, err)
		}
		if a.Port() != 8333 {
			t.Errorf("Port() = %d, want 8333", a.Port())
		}
	}
}

func TestParseAuthorityInvalid(t *testing.T) {
	cases := []string{"not-an-address", "127.0.0.1", "[::1]"}
	for _, s := range cases {
		if _, err := ParseAuthority(s); err == nil {
			t.Errorf("ParseAuthority(%q) should have failed", s)
		}
	}
}

func TestAuthorityIsIPv4(t *testing.T) {
	v4, err := ParseAuthority("127.0.0.1:8333")
	if err != nil {
		t.Fatalf("ParseAuthority: %v", err)
	}
	if !v4.IsIPv4() {
		t.Errorf("IsIPv4() = false for IPv4 address")
	}

	v6, err := ParseAuthority("[2001:db8::1]:8333")
	if err != nil {
		t.Fatalf("ParseAuthority: %v", err)
	}
	if v6.IsIPv4() {
		t.Errorf("IsIPv4() = true for IPv6 address")
	}
}

func TestAuthorityEquality(t *testing.T) {
	a, _ := ParseAuthority("127.0.0.1:8333")
	b, _ := ParseAuthority("127.0.0.1:8333")
	c, _ := ParseAuthority("127.0.0.1:8334")
	if a != b {
		t.Errorf("identical authorities should compare equal")
	}
	if a == c {
		t.Errorf("authorities differing by port should not compare equal")
	}
}

func TestAddressItemEqualIgnoresMetadata(t *testing.T) {
	auth, _ := ParseAuthority("127.0.0.1:8333")
	a := AddressItem{Authority: auth, Timestamp: 1, Services: 1}
	b := AddressItem{Authority: auth, Timestamp: 999, Services: 0}
	if !a.Equal(b) {
		t.Errorf("AddressItem.Equal should ignore Timestamp/Services")
	}
}

func TestAuthorityZeroValue(t *testing.T) {
	var zero Authority
	if zero != (Authority{}) {
		t.Errorf("zero Authority should compare equal to Authority{}")
	}
}
