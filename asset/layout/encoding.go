package layout

import (
	"encoding/binary"
	"math"

	"github.com/achilleasa/meshtrace/types"
	"github.com/pkg/errors"
)

// Packed record sizes in bytes.
//
// BVH record (one 64-byte cache line), per child c at offset 32*c:
//
//	[0:12]  box min (3 x float32)
//	[12:16] link word: bit 31 = leaf flag, bits 0-30 = node index or first geometry index
//	[16:28] box max (3 x float32)
//	[28:32] leaf geometry count (0 for interior children)
//
// Kd-tree record:
//
//	[0:4] split value bits (interior) or first geometry index (leaf)
//	[4:8] bit 31 = leaf flag; interior: bits 0-1 axis, bits 2-30 positive child;
//	      leaf: bits 0-30 geometry count
//
// Link record (used for the BVH root):
//
//	[0:4] link word, [4:8] leaf geometry count
const (
	BvhNodeSize = 64
	KdNodeSize  = 8
	LinkSize    = 8
)

const (
	leafFlag      uint32 = 1 << 31
	maxLinkIndex  uint32 = leafFlag - 1
	kdAxisBits           = 2
	kdAxisMask    uint32 = 1<<kdAxisBits - 1
	maxKdChild    uint32 = (leafFlag - 1) >> kdAxisBits
	maxLeafCount  uint32 = leafFlag - 1
	bvhChildBytes        = BvhNodeSize / 2
)

var (
	// ErrIndexOverflow is returned when a node field does not fit its packed record.
	ErrIndexOverflow = errors.New("layout: index does not fit packed record")

	// ErrInvalidRecord is returned when a packed record cannot be decoded.
	ErrInvalidRecord = errors.New("layout: invalid record")
)

var byteOrder = binary.LittleEndian

// Returns the largest node or geometry index a link can hold.
func MaxLinkIndex() uint32 {
	return maxLinkIndex
}

// Returns the largest positive child index a kd record can hold.
func MaxKdChildIndex() uint32 {
	return maxKdChild
}

func encodeLinkWord(l Link) (word, count uint32, err error) {
	if l.index > maxLinkIndex {
		return 0, 0, errors.Wrapf(ErrIndexOverflow, "link index %d", l.index)
	}
	if !l.leaf {
		return l.index, 0, nil
	}
	return l.index | leafFlag, l.count, nil
}

func decodeLinkWord(word, count uint32) Link {
	if word&leafFlag != 0 {
		return LeafLink(word&^leafFlag, count)
	}
	return InteriorLink(word)
}

// Append the packed form of a link to buf.
func AppendLink(buf []byte, l Link) ([]byte, error) {
	word, count, err := encodeLinkWord(l)
	if err != nil {
		return buf, err
	}
	buf = byteOrder.AppendUint32(buf, word)
	return byteOrder.AppendUint32(buf, count), nil
}

// Decode a packed link record.
func DecodeLink(rec []byte) (Link, error) {
	if len(rec) != LinkSize {
		return Link{}, errors.Wrapf(ErrInvalidRecord, "link record has %d bytes; expected %d", len(rec), LinkSize)
	}
	return decodeLinkWord(byteOrder.Uint32(rec[0:]), byteOrder.Uint32(rec[4:])), nil
}

func appendVec3(buf []byte, v types.Vec3) []byte {
	buf = byteOrder.AppendUint32(buf, math.Float32bits(v[0]))
	buf = byteOrder.AppendUint32(buf, math.Float32bits(v[1]))
	return byteOrder.AppendUint32(buf, math.Float32bits(v[2]))
}

func decodeVec3(rec []byte) types.Vec3 {
	return types.Vec3{
		math.Float32frombits(byteOrder.Uint32(rec[0:])),
		math.Float32frombits(byteOrder.Uint32(rec[4:])),
		math.Float32frombits(byteOrder.Uint32(rec[8:])),
	}
}

// Append the packed 64-byte form of a BVH node to buf.
func AppendBvhNode(buf []byte, n BvhNode) ([]byte, error) {
	for _, child := range n.Children {
		word, count, err := encodeLinkWord(child.Link)
		if err != nil {
			return buf, err
		}
		buf = appendVec3(buf, child.Box.Min)
		buf = byteOrder.AppendUint32(buf, word)
		buf = appendVec3(buf, child.Box.Max)
		buf = byteOrder.AppendUint32(buf, count)
	}
	return buf, nil
}

// Decode a packed BVH node record.
func DecodeBvhNode(rec []byte) (BvhNode, error) {
	if len(rec) != BvhNodeSize {
		return BvhNode{}, errors.Wrapf(ErrInvalidRecord, "bvh record has %d bytes; expected %d", len(rec), BvhNodeSize)
	}

	var n BvhNode
	for c := range n.Children {
		child := rec[c*bvhChildBytes : (c+1)*bvhChildBytes]
		n.Children[c] = BvhChild{
			Box: types.BBox{
				Min: decodeVec3(child[0:12]),
				Max: decodeVec3(child[16:28]),
			},
			Link: decodeLinkWord(byteOrder.Uint32(child[12:]), byteOrder.Uint32(child[28:])),
		}
	}
	return n, nil
}

// Append the packed 8-byte form of a kd-tree node to buf.
func AppendKdNode(buf []byte, n KdNode) ([]byte, error) {
	if n.leaf {
		if n.count > maxLeafCount {
			return buf, errors.Wrapf(ErrIndexOverflow, "kd leaf count %d", n.count)
		}
		buf = byteOrder.AppendUint32(buf, n.index)
		return byteOrder.AppendUint32(buf, n.count|leafFlag), nil
	}

	if n.index > maxKdChild {
		return buf, errors.Wrapf(ErrIndexOverflow, "kd child index %d", n.index)
	}
	if n.axis > types.ZAxis {
		return buf, errors.Wrapf(ErrInvalidRecord, "kd split axis %d", n.axis)
	}
	buf = byteOrder.AppendUint32(buf, math.Float32bits(n.split))
	return byteOrder.AppendUint32(buf, n.index<<kdAxisBits|uint32(n.axis)), nil
}

// Decode a packed kd-tree node record.
func DecodeKdNode(rec []byte) (KdNode, error) {
	if len(rec) != KdNodeSize {
		return KdNode{}, errors.Wrapf(ErrInvalidRecord, "kd record has %d bytes; expected %d", len(rec), KdNodeSize)
	}

	word0 := byteOrder.Uint32(rec[0:])
	word1 := byteOrder.Uint32(rec[4:])
	if word1&leafFlag != 0 {
		return KdLeaf(word0, word1&^leafFlag), nil
	}

	axis := types.Axis(word1 & kdAxisMask)
	if axis > types.ZAxis {
		return KdNode{}, errors.Wrapf(ErrInvalidRecord, "kd split axis %d", axis)
	}
	return KdInterior(axis, math.Float32frombits(word0), word1>>kdAxisBits), nil
}

// Pack a BVH node array.
func EncodeBvhNodes(nodes []BvhNode) ([]byte, error) {
	buf := make([]byte, 0, len(nodes)*BvhNodeSize)
	var err error
	for index, n := range nodes {
		if buf, err = AppendBvhNode(buf, n); err != nil {
			return nil, errors.Wrapf(err, "bvh node %d", index)
		}
	}
	return buf, nil
}

// Unpack a BVH node array.
func DecodeBvhNodes(blob []byte) ([]BvhNode, error) {
	if len(blob)%BvhNodeSize != 0 {
		return nil, errors.Wrapf(ErrInvalidRecord, "bvh blob length %d is not a multiple of %d", len(blob), BvhNodeSize)
	}
	nodes := make([]BvhNode, len(blob)/BvhNodeSize)
	for index := range nodes {
		n, err := DecodeBvhNode(blob[index*BvhNodeSize : (index+1)*BvhNodeSize])
		if err != nil {
			return nil, err
		}
		nodes[index] = n
	}
	return nodes, nil
}

// Pack a kd-tree node array.
func EncodeKdNodes(nodes []KdNode) ([]byte, error) {
	buf := make([]byte, 0, len(nodes)*KdNodeSize)
	var err error
	for index, n := range nodes {
		if buf, err = AppendKdNode(buf, n); err != nil {
			return nil, errors.Wrapf(err, "kd node %d", index)
		}
	}
	return buf, nil
}

// Unpack a kd-tree node array.
func DecodeKdNodes(blob []byte) ([]KdNode, error) {
	if len(blob)%KdNodeSize != 0 {
		return nil, errors.Wrapf(ErrInvalidRecord, "kd blob length %d is not a multiple of %d", len(blob), KdNodeSize)
	}
	nodes := make([]KdNode, len(blob)/KdNodeSize)
	for index := range nodes {
		n, err := DecodeKdNode(blob[index*KdNodeSize : (index+1)*KdNodeSize])
		if err != nil {
			return nil, errors.Wrapf(err, "kd node %d", index)
		}
		nodes[index] = n
	}
	return nodes, nil
}
