package tap

import (
	"log/slog"
	"net"
	"sync"
)

// mockCall records a single method invocation on mockLinkController.
type mockCall struct {
	Method string
	Args   []interface{}
}

// mockLinkController is a test double for LinkController.
// It records all calls and supports configurable error returns per method.
type mockLinkController struct {
	mu sync.Mutex

	calls []mockCall
	hw    net.HardwareAddr

	setHardwareAddrErr error
	setMTUErr          error
	addAddressErr      error
	setUpErr           error
	hardwareAddrErr    error
}

func (m *mockLinkController) SetHardwareAddr(name string, mac net.HardwareAddr) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Method: "SetHardwareAddr", Args: []interface{}{name, mac}})
	if m.setHardwareAddrErr != nil {
		return m.setHardwareAddrErr
	}
	m.hw = mac
	return nil
}

func (m *mockLinkController) SetMTU(name string, mtu int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Method: "SetMTU", Args: []interface{}{name, mtu}})
	return m.setMTUErr
}

func (m *mockLinkController) AddAddress(name string, addr *net.IPNet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Method: "AddAddress", Args: []interface{}{name, addr}})
	return m.addAddressErr
}

func (m *mockLinkController) SetUp(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Method: "SetUp", Args: []interface{}{name}})
	return m.setUpErr
}

func (m *mockLinkController) HardwareAddr(name string) (net.HardwareAddr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mockCall{Method: "HardwareAddr", Args: []interface{}{name}})
	if m.hardwareAddrErr != nil {
		return nil, m.hardwareAddrErr
	}
	if m.hw == nil {
		return net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}, nil
	}
	return m.hw, nil
}

// methods returns the method names of all recorded calls, in order.
func (m *mockLinkController) methods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]string, len(m.calls))
	for i, c := range m.calls {
		result[i] = c.Method
	}
	return result
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}
