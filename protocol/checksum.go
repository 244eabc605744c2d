package protocol

import "hash/crc32"

// CRC32 computes the IEEE 802.3 CRC-32 (the ZIP/Ethernet polynomial) that the
// secure bootloader reports for a received byte range.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// UpdateCRC32 extends crc with data, so a running checksum can be kept while
// streaming.
func UpdateCRC32(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}
