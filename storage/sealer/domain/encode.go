package domain

import (
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

// Encode returns key + value over the scalar field.
func Encode(key, value Node) (Node, error) {
	k, err := key.Fr()
	if err != nil {
		return Node{}, err
	}
	v, err := value.Fr()
	if err != nil {
		return Node{}, err
	}

	var out fr.Element
	out.Add(&k, &v)
	return FromFr(&out), nil
}

// Decode returns value - key over the scalar field.
func Decode(key, value Node) (Node, error) {
	k, err := key.Fr()
	if err != nil {
		return Node{}, err
	}
	v, err := value.Fr()
	if err != nil {
		return Node{}, err
	}

	var out fr.Element
	out.Sub(&v, &k)
	return FromFr(&out), nil
}

// EncodeScaled returns key + value*rho.
func EncodeScaled(key, value Node, rho *fr.Element) (Node, error) {
	k, err := key.Fr()
	if err != nil {
		return Node{}, err
	}
	v, err := value.Fr()
	if err != nil {
		return Node{}, err
	}

	var out fr.Element
	out.Mul(&v, rho)
	out.Add(&out, &k)
	return FromFr(&out), nil
}

// DecodeScaled returns (value - key)*rhoInv.
func DecodeScaled(key, value Node, rhoInv *fr.Element) (Node, error) {
	k, err := key.Fr()
	if err != nil {
		return Node{}, err
	}
	v, err := value.Fr()
	if err != nil {
		return Node{}, err
	}

	var out fr.Element
	out.Sub(&v, &k)
	out.Mul(&out, rhoInv)
	return FromFr(&out), nil
}

// RemoveScaled returns value - data*rho, recovering the key EncodeScaled used.
func RemoveScaled(value, data Node, rho *fr.Element) (Node, error) {
	v, err := value.Fr()
	if err != nil {
		return Node{}, err
	}
	d, err := data.Fr()
	if err != nil {
		return Node{}, err
	}

	var out fr.Element
	out.Mul(&d, rho)
	out.Sub(&v, &out)
	return FromFr(&out), nil
}
