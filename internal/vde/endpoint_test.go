package vde

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plexsphere/vdeplug/internal/frame"
)

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		address, scheme, rest string
	}{
		{"vde:///tmp/vde.ctl", "vde", "/tmp/vde.ctl"},
		{"/tmp/vde.ctl", "vde", "/tmp/vde.ctl"},
		{"", "vde", ""},
		{"VXVDE://239.0.0.1", "vxvde", "239.0.0.1"},
		{"udp://5000->10.0.0.1:5000", "udp", "5000->10.0.0.1:5000"},
		{"badscheme://x", "badscheme", "x"},
	}
	for _, tt := range tests {
		scheme, rest := SplitAddress(tt.address)
		require.Equal(t, tt.scheme, scheme, tt.address)
		require.Equal(t, tt.rest, rest, tt.address)
	}
}

func TestOpen_UnknownScheme(t *testing.T) {
	tr, err := Open("badscheme://x", Config{}, discardLogger())
	require.Nil(t, tr)
	require.ErrorIs(t, err, ErrUnknownScheme)
	require.Contains(t, err.Error(), "badscheme")
}

func TestOpen_InvalidConfig(t *testing.T) {
	_, err := Open("test://x", Config{MulticastTTL: IntPtr(1000)}, discardLogger())
	require.Error(t, err)
	require.Contains(t, err.Error(), "vde: config:")
}

func TestRegister(t *testing.T) {
	dialErr := errors.New("dial failed")
	var gotRest, gotDescription string
	Register("vdeplugtest", func(rest string, cfg Config, _ *slog.Logger) (frame.Transport, error) {
		gotRest, gotDescription = rest, cfg.Description
		return nil, dialErr
	})
	t.Cleanup(func() {
		dialersMu.Lock()
		delete(dialers, "vdeplugtest")
		dialersMu.Unlock()
	})

	require.Contains(t, Schemes(), "vdeplugtest")

	_, err := Open("vdeplugtest://some/where", Config{}, discardLogger())
	require.ErrorIs(t, err, dialErr)
	require.Equal(t, "some/where", gotRest)
	require.Equal(t, DefaultDescription, gotDescription)
}

func TestSchemes_Sorted(t *testing.T) {
	schemes := Schemes()
	for i := 1; i < len(schemes); i++ {
		require.Less(t, schemes[i-1], schemes[i])
	}
}

func TestParseOptions(t *testing.T) {
	opts, err := parseOptions("port=5000/VNI=3//ttl=2")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"port": "5000", "vni": "3", "ttl": "2"}, opts)

	_, err = parseOptions("port")
	require.Error(t, err)

	_, err = parseOptions("=1")
	require.Error(t, err)
}
