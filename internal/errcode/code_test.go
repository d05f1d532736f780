package errcode

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
)

func TestCodeString(t *testing.T) {
	cases := []struct {
		code Code
		want string
	}{
		{Success, "success"},
		{ChannelStopped, "channel_stopped"},
		{Code(9999), "code(9999)"},
	}
	for _, tc := range cases {
		if got := tc.code.String(); got != tc.want {
			t.Errorf("Code(%d).String() = %q, want %q", tc.code, got, tc.want)
		}
	}
}

func TestTerminalIsBareCode(t *testing.T) {
	err := Wrap(ChannelStopped, nil)
	if !errors.Is(err, ChannelStopped) {
		t.Fatalf("errors.Is(err, ChannelStopped) = false, want true")
	}
	if errors.Is(err, ChannelTimeout) {
		t.Fatalf("errors.Is(err, ChannelTimeout) = true, want false")
	}
}

func TestWrapSuccessNilIsNil(t *testing.T) {
	if Wrap(Success, nil) != nil {
		t.Fatalf("Wrap(Success, nil) should be nil")
	}
}

func TestWrapAttachesStack(t *testing.T) {
	cause := pkgerrors.New("boom")
	term := Wrap(BadAlloc, cause)
	if term.Code != BadAlloc {
		t.Fatalf("Code = %v, want BadAlloc", term.Code)
	}
	if !errors.Is(term, BadAlloc) {
		t.Fatalf("errors.Is against wrapped cause should still match BadAlloc")
	}
}

func TestAs(t *testing.T) {
	term := New(AddressNotFound)
	code, ok := As(term)
	if !ok || code != AddressNotFound {
		t.Fatalf("As(term) = (%v, %v), want (AddressNotFound, true)", code, ok)
	}

	if _, ok := As(errors.New("plain")); ok {
		t.Fatalf("As(plain error) should report ok=false")
	}
}

func TestCodeErrorInterface(t *testing.T) {
	var err error = ChannelTimeout
	if err.Error() != "channel_timeout" {
		t.Fatalf("Code.Error() = %q, want %q", err.Error(), "channel_timeout")
	}
}
