// Package firmware loads the files a DFU transfer needs: the firmware image
// and, for the secure bootloader, its init packet.
//
// # Inputs
//
// Images are read from raw binaries (.bin) or Intel HEX files (.hex). HEX
// files are flattened into one contiguous image starting at their lowest
// address; gaps are filled with 0xFF.
//
// Intel HEX record format:
//
//	:[Count(2)][Address(4)][Type(2)][Data(2*Count)][Checksum(2)]
//
// Example record:
//
//	:0400000001020304F2
//	  04 = Byte count
//	  0000 = Address (big-endian)
//	  00 = Record type (data)
//	  01020304 = Data
//	  F2 = Checksum
//
// Record types 00 (data), 01 (end of file), 02 (extended segment address)
// and 04 (extended linear address) are interpreted; 03 and 05 (start
// addresses) are ignored.
//
// DFU zip packages hold a manifest.json naming the .bin and .dat files of
// each image:
//
//	{"manifest": {"application": {"bin_file": "app.bin", "dat_file": "app.dat"}}}
//
// Packages without a manifest must contain exactly one .bin and one .dat.
//
// # Usage
//
//	b, err := firmware.Load("app.hex", "app.dat", "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ip, err := firmware.InspectInitPacket(b.Descriptor)
//	if err == nil {
//	    fmt.Printf("%s, %d bytes, hash %X\n", ip.Type, ip.ImageSize(), ip.Hash)
//	}
package firmware
