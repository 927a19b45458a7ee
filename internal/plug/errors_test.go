package plug

import (
	"errors"
	"testing"
)

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("cause")

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"device", &DeviceOpenError{Device: "tap0", Err: cause}, "plug: open device tap0: cause"},
		{"endpoint", &EndpointOpenError{Endpoint: "udp://h:1", Err: cause}, "plug: open endpoint udp://h:1: cause"},
		{"io", &TransportIOError{Side: "remote", Op: "write", Err: cause}, "plug: remote: write: cause"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
			if !errors.Is(tt.err, cause) {
				t.Error("errors.Is should find the cause")
			}
		})
	}
}
