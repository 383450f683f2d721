// Package serialization stores model and optimizer state in the .ocnn
// checkpoint format.
//
//	Format Structure:
//	  [64 bytes: fixed header]
//	    0x00-0x03: Magic "OCNN"
//	    0x04-0x07: Version (uint32 LE)
//	    0x08-0x0B: Flags (uint32 LE)
//	    0x0C-0x0F: Reserved
//	    0x10-0x17: JSON header size (uint64 LE)
//	    0x18-0x1F: Data size (uint64 LE)
//	    0x20-0x3F: SHA-256 of the data section
//	  [Header: JSON metadata]
//	  [Padding to a 64-byte boundary]
//	  [Tensor data: little-endian float64, row-major]
//
// Example usage:
//
//	ck := &serialization.Checkpoint{Epoch: 3, Model: ae.StateDict(), Optimizer: opt.StateDict()}
//	if err := serialization.SaveCheckpoint(serialization.CheckpointPath(dir, 3), ck); err != nil {
//	    return err
//	}
//
//	ck, err := serialization.LoadCheckpoint(path)
//	if err != nil {
//	    return err
//	}
//	_ = ae.LoadStateDict(ck.Model)
package serialization
