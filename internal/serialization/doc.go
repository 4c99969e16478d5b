// Package serialization provides the .tsra container for tessera networks:
// the schema and, optionally, the network data in one versioned file.
//
//	Container layout:
//	  [0x00: Magic "TSRA"]
//	  [0x04: Container version (uint32 LE)]
//	  [0x08: Flags (uint32 LE)]
//	  [0x0C: Reserved]
//	  [0x10: Header size (uint64 LE)]
//	  [0x18: Data size (uint64 LE)]
//	  [0x20: SHA-256 of the data section (32 bytes)]
//	  [0x40: Header: JSON]
//	  [Tensor data: little-endian float32, 64-byte aligned]
//
// The JSON header carries a format identifier. FormatV2 is written by
// default. FormatV1 files carry weights only; their custom data is filled
// with each layer's defaults when read. Identifiers outside this set are
// rejected with a format error.
//
// Example usage:
//
//	if err := serialization.SaveFile("net.tsra", s, d, serialization.WriteOptions{}); err != nil {
//	    log.Fatal(err)
//	}
//
//	m, err := serialization.LoadFile("net.tsra", serialization.ReadOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	engine.SetData(m.Data)
package serialization
