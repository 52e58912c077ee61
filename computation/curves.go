package computation

import (
	"errors"
	"math/big"

	bls12377 "github.com/consensys/gnark-crypto/ecc/bls12-377"
	bls12377fr "github.com/consensys/gnark-crypto/ecc/bls12-377/fr"
	bw6761 "github.com/consensys/gnark-crypto/ecc/bw6-761"
	bw6761fr "github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	blst "github.com/supranational/blst/bindings/go"
)

var (
	errNotInSubgroup = errors.New("point not in subgroup")
	errInfinity      = errors.New("point at infinity")
	errMalformed     = errors.New("malformed point encoding")
)

type bls12377Group struct{}

func (bls12377Group) pointSize() int  { return bls12377.SizeOfG1AffineCompressed }
func (bls12377Group) order() *big.Int { return bls12377fr.Modulus() }

func (bls12377Group) generator() []byte {
	_, _, g1, _ := bls12377.Generators()
	b := g1.Bytes()
	return b[:]
}

func (bls12377Group) scale(point []byte, s *big.Int) ([]byte, error) {
	var p bls12377.G1Affine
	if _, err := p.SetBytes(point); err != nil {
		return nil, err
	}
	var r bls12377.G1Affine
	r.ScalarMultiplication(&p, s)
	b := r.Bytes()
	return b[:], nil
}

func (bls12377Group) check(point []byte) error {
	var p bls12377.G1Affine
	if _, err := p.SetBytes(point); err != nil {
		return err
	}
	if p.IsInfinity() {
		return errInfinity
	}
	if !p.IsInSubGroup() {
		return errNotInSubgroup
	}
	return nil
}

type bw6761Group struct{}

func (bw6761Group) pointSize() int  { return bw6761.SizeOfG1AffineCompressed }
func (bw6761Group) order() *big.Int { return bw6761fr.Modulus() }

func (bw6761Group) generator() []byte {
	_, _, g1, _ := bw6761.Generators()
	b := g1.Bytes()
	return b[:]
}

func (bw6761Group) scale(point []byte, s *big.Int) ([]byte, error) {
	var p bw6761.G1Affine
	if _, err := p.SetBytes(point); err != nil {
		return nil, err
	}
	var r bw6761.G1Affine
	r.ScalarMultiplication(&p, s)
	b := r.Bytes()
	return b[:], nil
}

func (bw6761Group) check(point []byte) error {
	var p bw6761.G1Affine
	if _, err := p.SetBytes(point); err != nil {
		return err
	}
	if p.IsInfinity() {
		return errInfinity
	}
	if !p.IsInSubGroup() {
		return errNotInSubgroup
	}
	return nil
}

// bls12381Order is the order of the BLS12-381 scalar field.
var bls12381Order, _ = new(big.Int).SetString("73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)

// zcash encoding flags of a compressed point
const (
	blstCompressedFlag = 0x80
	blstInfinityFlag   = 0x40
)

type bls12381Group struct{}

func (bls12381Group) pointSize() int  { return blst.BLST_P1_COMPRESS_BYTES }
func (bls12381Group) order() *big.Int { return bls12381Order }

func (bls12381Group) generator() []byte {
	return blst.P1Generator().ToAffine().Compress()
}

func (bls12381Group) scale(point []byte, s *big.Int) ([]byte, error) {
	aff := new(blst.P1Affine).Uncompress(point)
	if aff == nil {
		return nil, errMalformed
	}
	var p blst.P1
	p.FromAffine(aff)
	return p.Mult(littleEndian32(s)).ToAffine().Compress(), nil
}

func (bls12381Group) check(point []byte) error {
	if len(point) != blst.BLST_P1_COMPRESS_BYTES || point[0]&blstCompressedFlag == 0 {
		return errMalformed
	}
	if point[0]&blstInfinityFlag != 0 {
		return errInfinity
	}
	aff := new(blst.P1Affine).Uncompress(point)
	if aff == nil {
		return errMalformed
	}
	if !aff.InG1() {
		return errNotInSubgroup
	}
	return nil
}

// littleEndian32 encodes s as the 32-byte little-endian scalar blst expects.
func littleEndian32(s *big.Int) []byte {
	be := s.FillBytes(make([]byte, 32))
	le := make([]byte, 32)
	for i := range be {
		le[i] = be[31-i]
	}
	return le
}
