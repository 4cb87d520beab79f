package types

import (
	"bytes"
	"fmt"

	"github.com/tendermint/tendermint/crypto/tmhash"
)

// testSigner 测试用的签名器: sig = H(pubKey || msg)，不具备安全性
type testSigner struct {
	pubKey []byte
}

func newTestSigner(i int) *testSigner {
	return &testSigner{pubKey: tmhash.Sum([]byte(fmt.Sprintf("validator-%d", i)))}
}

func (s *testSigner) Sign(msg []byte) ([]byte, error) {
	return tmhash.Sum(append(append([]byte{}, s.pubKey...), msg...)), nil
}

func (s *testSigner) Verify(msg, sig, pubKey []byte) bool {
	expect := tmhash.Sum(append(append([]byte{}, pubKey...), msg...))
	return bytes.Equal(expect, sig)
}

func (s *testSigner) AddressOf(pubKey []byte) Address {
	return AddressFromPubKey(pubKey)
}

func (s *testSigner) address() Address {
	return AddressFromPubKey(s.pubKey)
}
