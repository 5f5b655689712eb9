package etha

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/gopacket/layers"
	"github.com/lab47/accelsim/pkg/pipeline"
)

// Target is where a filter routes a frame.
type Target struct {
	Queue  int
	Action CongestionAction
}

// Filtered carries a frame's parser info and the filter verdict, if any.
type Filtered struct {
	Info    ParserInfo
	Target  Target
	Matched bool
}

// Filter runs the ethertype pass and then the 5-tuple pass.
type Filter struct {
	regs *FilterRegs
}

func NewFilter(regs *FilterRegs) *Filter {
	return &Filter{regs: regs}
}

func (f *Filter) Pipeline() pipeline.Stage[ParserInfo, Filtered] {
	return pipeline.Then[ParserInfo, Filtered, Filtered](
		pipeline.Func[ParserInfo, Filtered](f.etherType),
		pipeline.Func[Filtered, Filtered](f.fiveTuple),
	)
}

// etherType picks the first enabled rule matching the frame's ethertype.
func (f *Filter) etherType(_ []byte, info ParserInfo) (Filtered, error) {
	out := Filtered{Info: info}

	for i := range f.regs.ET {
		c := f.regs.ETFilter(i)
		if c.Enabled() && c.EtherType() == uint16(info.L2.EtherType) {
			out.Target = Target{Queue: c.Queue(), Action: c.Action()}
			out.Matched = true
			break
		}
	}

	return out, nil
}

// fiveTuple picks the matching rule with the lowest priority value, earlier
// rules winning ties. It is skipped once an ethertype rule matched.
func (f *Filter) fiveTuple(_ []byte, in Filtered) (Filtered, error) {
	if in.Matched {
		return in, nil
	}

	et := in.Info.L2.EtherType
	if et != layers.EthernetTypeIPv4 && et != layers.EthernetTypeIPv6 {
		return in, nil
	}

	best := -1
	var bestPri uint8

	for i := range f.regs.TP5 {
		rule := &f.regs.TP5[i]
		if !tp5Match(rule, in.Info) {
			continue
		}

		pri := rule.Ctrl().Priority()
		if best < 0 || pri < bestPri {
			best, bestPri = i, pri
		}
	}

	if best >= 0 {
		c := f.regs.TP5[best].Ctrl()
		in.Target = Target{Queue: c.Queue(), Action: c.Action()}
		in.Matched = true
	}

	return in, nil
}

func tp5Match(rule *TP5Filter, info ParserInfo) bool {
	c := rule.Ctrl()
	if !c.Enabled() {
		return false
	}

	switch info.L2.EtherType {
	case layers.EthernetTypeIPv4:
		if c.IPv6() {
			return false
		}
	case layers.EthernetTypeIPv6:
		if !c.IPv6() {
			return false
		}
	default:
		return false
	}

	srcPort, dstPort := rule.Ports()

	return (c.AnySrc() || addrMatch(info.L3.Src, rule.Src())) &&
		(c.AnyDst() || addrMatch(info.L3.Dst, rule.Dst())) &&
		(c.AnyProtocol() || uint8(info.L3.Protocol) == c.Protocol()) &&
		(c.AnySrcPort() || portMatch(info.L3.Protocol, info.L4.SrcPort, srcPort)) &&
		(c.AnyDstPort() || portMatch(info.L3.Protocol, info.L4.DstPort, dstPort))
}

// addrMatch compares a against filter words holding the address bytes in
// little-endian order. IPv4 uses only the first word.
func addrMatch(a netip.Addr, words [4]uint32) bool {
	var b [16]byte
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}

	switch {
	case a.Is4():
		return a.As4() == [4]byte(b[:4])
	case a.Is6():
		return a.As16() == b
	default:
		return false
	}
}

// Ports only constrain TCP and UDP frames.
func portMatch(proto layers.IPProtocol, port, want uint16) bool {
	switch proto {
	case layers.IPProtocolTCP, layers.IPProtocolUDP:
		return port == want
	default:
		return true
	}
}
