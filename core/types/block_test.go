package types

import (
	"bytes"
	"testing"
)

func TestBlockHeaderHashCommitsToFields(t *testing.T) {
	a := &BlockHeader{Height: 1, Timestamp: 100}
	b := &BlockHeader{Height: 1, Timestamp: 100}
	c := &BlockHeader{Height: 2, Timestamp: 100, PrevHash: []byte{1}}
	ha, err := a.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	hb, _ := b.Hash()
	hc, _ := c.Hash()
	if !bytes.Equal(ha, hb) {
		t.Fatalf("equal headers hashed differently")
	}
	if bytes.Equal(ha, hc) {
		t.Fatalf("distinct headers collided")
	}
}

func TestBlockHeaderHashIgnoresEmptyPrevHashForm(t *testing.T) {
	a := &BlockHeader{Height: 3}
	b := &BlockHeader{Height: 3, PrevHash: []byte{}}
	ha, _ := a.Hash()
	hb, _ := b.Hash()
	if !bytes.Equal(ha, hb) {
		t.Fatalf("nil and empty prev hash should hash identically")
	}
}
