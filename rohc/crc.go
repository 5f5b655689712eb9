package rohc

import (
	"github.com/sigurn/crc8"
)

// crcTable is the CRC-8 of RFC 3095 section 5.9.1.
var crcTable = crc8.MakeTable(crc8.CRC8_ROHC)

func crc8Sum(data []byte) byte { return crc8.Checksum(data, crcTable) }
