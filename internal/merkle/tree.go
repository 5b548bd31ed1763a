// Package merkle commits to a grid with a MiMC Merkle tree over BN254, the
// same hash the shot circuit recomputes in-circuit.
package merkle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	bnmimc "github.com/consensys/gnark-crypto/ecc/bn254/fr/mimc"
)

// Depth of the grid tree: 32 leaves cover the 25 cells.
const Depth = 5

const leaves = 1 << Depth

// fe encodes a field element as 32 big-endian bytes.
func fe(x *big.Int) []byte {
	out := make([]byte, fr.Bytes)
	x.FillBytes(out)
	return out
}

// FieldElement reduces arbitrary bytes (a salt) into the scalar field.
func FieldElement(b []byte) *big.Int {
	var e fr.Element
	e.SetBytes(b)
	return e.BigInt(new(big.Int))
}

// HashLeaf is MiMC(bit).
func HashLeaf(bit uint8) *big.Int {
	h := bnmimc.NewMiMC()
	h.Write(fe(new(big.Int).SetUint64(uint64(bit))))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// HashNode is MiMC(left || right).
func HashNode(left, right *big.Int) *big.Int {
	h := bnmimc.NewMiMC()
	h.Write(fe(left))
	h.Write(fe(right))
	return new(big.Int).SetBytes(h.Sum(nil))
}

// Tree stores every level; Levels[0] are leaf hashes, Levels[Depth] the root.
type Tree struct {
	Levels [][]*big.Int `json:"levels"`
}

// NewTree hashes cells (0/1) into a fixed tree, padding with zero leaves.
func NewTree(cells []uint8) (*Tree, error) {
	if len(cells) > leaves {
		return nil, fmt.Errorf("too many cells: %d > %d", len(cells), leaves)
	}
	pad := HashLeaf(0)
	level := make([]*big.Int, leaves)
	for i := range level {
		switch {
		case i >= len(cells):
			level[i] = pad
		case cells[i] > 1:
			return nil, fmt.Errorf("cell %d is not binary", i)
		default:
			level[i] = HashLeaf(cells[i])
		}
	}
	t := &Tree{Levels: [][]*big.Int{level}}
	for len(level) > 1 {
		up := make([]*big.Int, len(level)/2)
		for i := range up {
			up[i] = HashNode(level[2*i], level[2*i+1])
		}
		t.Levels = append(t.Levels, up)
		level = up
	}
	return t, nil
}

func (t *Tree) Root() *big.Int { return new(big.Int).Set(t.Levels[Depth][0]) }

// Opening is the sibling path of one leaf, bottom up. Bit i of the leaf
// index says whether the running hash is the right child at level i.
type Opening struct {
	Index    int
	Siblings [Depth]*big.Int
}

var errIndex = errors.New("leaf index out of range")

func (t *Tree) Open(idx int) (Opening, error) {
	if idx < 0 || idx >= leaves {
		return Opening{}, errIndex
	}
	o := Opening{Index: idx}
	cur := idx
	for level := 0; level < Depth; level++ {
		o.Siblings[level] = new(big.Int).Set(t.Levels[level][cur^1])
		cur >>= 1
	}
	return o, nil
}

// Fold recomputes the root from a leaf hash and its opening.
func (o Opening) Fold(leaf *big.Int) *big.Int {
	cur := leaf
	for level := 0; level < Depth; level++ {
		if (o.Index>>level)&1 == 1 {
			cur = HashNode(o.Siblings[level], cur)
		} else {
			cur = HashNode(cur, o.Siblings[level])
		}
	}
	return cur
}

// Commit salts the root so equal grids give unlinkable commitments.
func Commit(root, salt *big.Int) *big.Int {
	return HashNode(salt, root)
}

// Hex renders a commitment the way it travels in sessions and proofs.
func Hex(x *big.Int) string { return fmt.Sprintf("0x%x", x) }

// ParseHex is the inverse of Hex.
func ParseHex(s string) (*big.Int, error) {
	if len(s) < 3 || (s[:2] != "0x" && s[:2] != "0X") {
		return nil, fmt.Errorf("invalid hex %q", s)
	}
	n, ok := new(big.Int).SetString(s[2:], 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex %q", s)
	}
	return n, nil
}
