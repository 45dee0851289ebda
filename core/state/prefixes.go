package state

import ethcrypto "github.com/ethereum/go-ethereum/crypto"

// Key derives the storage key for a namespaced record. Keys are hashed so every
// module shares one flat keyspace without prefix collisions.
func Key(namespace string, parts ...[]byte) []byte {
	buf := make([]byte, 0, len(namespace)+1+32*len(parts))
	buf = append(buf, namespace...)
	for _, part := range parts {
		buf = append(buf, ':')
		buf = append(buf, part...)
	}
	return ethcrypto.Keccak256(buf)
}
