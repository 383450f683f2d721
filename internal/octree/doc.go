// Package octree implements a batched linear octree over point clouds.
//
// Every depth stores its nodes as a sorted array of keys, where a key packs
// the sample index into the upper 16 bits and the Morton code of the node's
// integer coordinates into the lower 48 bits:
//
//	key = batch<<48 | morton(x, y, z)
//
// Depths up to and including the full depth contain every node (8^d per
// sample). Each deeper depth contains the eight children of every non-empty
// node at the depth above. Only non-empty nodes at the leaf depth carry
// geometry (averaged normals and point positions).
//
// Example:
//
//	oct, err := octree.Build(clouds, 6, 2)
//	if err != nil {
//	    return err
//	}
//	mask := oct.NonEmptyMask(6)              // occupancy per leaf node
//	feat, _ := oct.InputFeature("ND", true)  // [non-empty leaves, 4]
package octree
