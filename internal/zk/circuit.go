package zk

import (
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/std/hash/mimc"

	"zkbattle/internal/merkle"
)

// ShotCircuit proves the defender's answer for Target is the cell committed
// to in Commitment, without revealing any other cell.
type ShotCircuit struct {
	Cell     frontend.Variable               `gnark:",secret"`
	Siblings [merkle.Depth]frontend.Variable `gnark:",secret"`
	Salt     frontend.Variable               `gnark:",secret"`

	Commitment frontend.Variable `gnark:",public"`
	Target     frontend.Variable `gnark:",public"`
	Hit        frontend.Variable `gnark:",public"`
}

func (c *ShotCircuit) Define(api frontend.API) error {
	api.AssertIsBoolean(c.Cell)
	api.AssertIsEqual(c.Hit, c.Cell)

	h, err := mimc.NewMiMC(api)
	if err != nil {
		return err
	}
	h.Write(c.Cell)
	curr := h.Sum()

	// the path direction is the target index itself, so the opening cannot
	// be for a different cell
	dirs := api.ToBinary(c.Target, merkle.Depth)
	for i := 0; i < merkle.Depth; i++ {
		h.Reset()
		left := api.Select(dirs[i], c.Siblings[i], curr)
		right := api.Select(dirs[i], curr, c.Siblings[i])
		h.Write(left, right)
		curr = h.Sum()
	}

	h.Reset()
	h.Write(c.Salt, curr)
	api.AssertIsEqual(h.Sum(), c.Commitment)
	return nil
}
