package octree

const (
	// MaxDepth is the deepest level a key can address.
	MaxDepth = 16

	batchShift = 3 * MaxDepth
	mortonMask = uint64(1)<<batchShift - 1
)

// encode interleaves the low bits of x, y and z, x being the most
// significant bit of every triple.
func encode(x, y, z uint32, depth int) uint64 {
	var key uint64
	for i := 0; i < depth; i++ {
		key |= uint64((x>>i)&1) << (3*i + 2)
		key |= uint64((y>>i)&1) << (3*i + 1)
		key |= uint64((z>>i)&1) << (3 * i)
	}
	return key
}

// decode is the inverse of encode.
func decode(key uint64, depth int) (x, y, z uint32) {
	for i := 0; i < depth; i++ {
		x |= uint32((key>>(3*i+2))&1) << i
		y |= uint32((key>>(3*i+1))&1) << i
		z |= uint32((key>>(3*i))&1) << i
	}
	return x, y, z
}

func withBatch(morton uint64, b int) uint64 {
	return uint64(b)<<batchShift | morton
}

func splitKey(key uint64) (morton uint64, b int) {
	return key & mortonMask, int(key >> batchShift)
}
