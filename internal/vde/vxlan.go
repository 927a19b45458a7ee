package vde

import (
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/plexsphere/vdeplug/internal/frame"
)

const (
	vxlanHeaderLen = 8
	maxVNI         = 1<<24 - 1
)

// encapsulate prefixes p with a VXLAN header carrying vni.
func encapsulate(vni uint32, p []byte) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	vx := &layers.VXLAN{ValidIDFlag: true, VNI: vni}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, vx, gopacket.Payload(p)); err != nil {
		return nil, fmt.Errorf("vde: vxlan encapsulate: %w", err)
	}
	return buf.Bytes(), nil
}

// decapsulate strips the VXLAN header from b. Datagrams that are malformed,
// belong to another network or carry no frame yield frame.ErrNoFrame.
func decapsulate(vni uint32, b []byte) ([]byte, error) {
	if len(b) < vxlanHeaderLen {
		return nil, frame.ErrNoFrame
	}
	var vx layers.VXLAN
	if err := vx.DecodeFromBytes(b, gopacket.NilDecodeFeedback); err != nil {
		return nil, frame.ErrNoFrame
	}
	if !vx.ValidIDFlag || vx.VNI != vni {
		return nil, frame.ErrNoFrame
	}
	payload := vx.LayerPayload()
	if len(payload) == 0 {
		return nil, frame.ErrNoFrame
	}
	return payload, nil
}
