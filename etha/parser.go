package etha

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/lab47/accelsim/pkg/pipeline"
	"github.com/pkg/errors"
	"github.com/rcrowley/go-metrics"
)

const (
	ethHeaderLen  = 14
	vlanHeaderLen = 4
	tcpHeaderLen  = 20
	udpHeaderLen  = 8

	// unknownProtocol marks a frame with no IP layer.
	unknownProtocol = 0xff
)

type L2Info struct {
	Src, Dst  [6]byte
	EtherType layers.EthernetType
	HeaderLen int

	VLAN      bool
	VLANFlags uint8
	VID       uint16
}

type L3Info struct {
	Src, Dst  netip.Addr
	Protocol  layers.IPProtocol
	HeaderLen int
}

type L4Info struct {
	SrcPort, DstPort uint16
	HeaderLen        int
}

// ParserInfo is what the rx parser learned about one frame.
type ParserInfo struct {
	L2 L2Info
	L3 L3Info
	L4 L4Info
}

type l23 struct {
	l2 L2Info
	l3 L3Info
}

// Parser decodes the L2, L3 and L4 headers of a received frame.
type Parser struct {
	eth   layers.Ethernet
	dot1q layers.Dot1Q
	ip4   layers.IPv4
	ip6   layers.IPv6
	tcp   layers.TCP
	udp   layers.UDP

	parsed metrics.Counter
}

func NewParser(parsed metrics.Counter) *Parser {
	if parsed == nil {
		parsed = metrics.NilCounter{}
	}
	return &Parser{parsed: parsed}
}

// Pipeline chains the three layer stages.
func (p *Parser) Pipeline() pipeline.Stage[struct{}, ParserInfo] {
	l2 := pipeline.Func[struct{}, L2Info](p.parseL2)
	l3 := pipeline.Func[L2Info, l23](p.parseL3)
	l4 := pipeline.Func[l23, ParserInfo](p.parseL4)

	return pipeline.Then[struct{}, l23, ParserInfo](pipeline.Then[struct{}, L2Info, l23](l2, l3), l4)
}

func (p *Parser) parseL2(buf []byte, _ struct{}) (L2Info, error) {
	p.parsed.Inc(1)

	var info L2Info
	if err := p.eth.DecodeFromBytes(buf, gopacket.NilDecodeFeedback); err != nil {
		return info, pipeline.Malformed(errors.Wrapf(err, "l2"))
	}

	copy(info.Src[:], p.eth.SrcMAC)
	copy(info.Dst[:], p.eth.DstMAC)

	// The raw field, not gopacket's 802.3 length interpretation.
	info.EtherType = layers.EthernetType(binary.BigEndian.Uint16(buf[12:14]))
	info.HeaderLen = ethHeaderLen

	if info.EtherType == layers.EthernetTypeDot1Q {
		if err := p.dot1q.DecodeFromBytes(buf[ethHeaderLen:], gopacket.NilDecodeFeedback); err != nil {
			return info, pipeline.Malformed(errors.Wrapf(err, "vlan"))
		}

		info.VLAN = true
		info.VLANFlags = buf[ethHeaderLen] >> 4
		info.VID = p.dot1q.VLANIdentifier
		info.EtherType = p.dot1q.Type
		info.HeaderLen = ethHeaderLen + vlanHeaderLen
	}

	return info, nil
}

func (p *Parser) parseL3(buf []byte, l2 L2Info) (l23, error) {
	out := l23{l2: l2, l3: L3Info{Protocol: unknownProtocol}}
	data := buf[l2.HeaderLen:]

	switch l2.EtherType {
	case layers.EthernetTypeIPv4:
		if err := p.ip4.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return out, pipeline.Malformed(errors.Wrapf(err, "ipv4"))
		}

		out.l3.Src, _ = netip.AddrFromSlice(p.ip4.SrcIP.To4())
		out.l3.Dst, _ = netip.AddrFromSlice(p.ip4.DstIP.To4())
		out.l3.Protocol = p.ip4.Protocol
		out.l3.HeaderLen = int(p.ip4.IHL) * 4

	case layers.EthernetTypeIPv6:
		if err := p.ip6.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return out, pipeline.Malformed(errors.Wrapf(err, "ipv6"))
		}

		out.l3.Src, _ = netip.AddrFromSlice(p.ip6.SrcIP.To16())
		out.l3.Dst, _ = netip.AddrFromSlice(p.ip6.DstIP.To16())
		out.l3.Protocol = p.ip6.NextHeader
		out.l3.HeaderLen = 40
	}

	return out, nil
}

func (p *Parser) parseL4(buf []byte, in l23) (ParserInfo, error) {
	info := ParserInfo{L2: in.l2, L3: in.l3}
	data := buf[in.l2.HeaderLen+in.l3.HeaderLen:]

	switch in.l3.Protocol {
	case layers.IPProtocolTCP:
		if err := p.tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return info, pipeline.Malformed(errors.Wrapf(err, "tcp"))
		}

		info.L4 = L4Info{
			SrcPort:   uint16(p.tcp.SrcPort),
			DstPort:   uint16(p.tcp.DstPort),
			HeaderLen: tcpHeaderLen,
		}

	case layers.IPProtocolUDP:
		if err := p.udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return info, pipeline.Malformed(errors.Wrapf(err, "udp"))
		}

		info.L4 = L4Info{
			SrcPort:   uint16(p.udp.SrcPort),
			DstPort:   uint16(p.udp.DstPort),
			HeaderLen: udpHeaderLen,
		}
	}

	return info, nil
}
