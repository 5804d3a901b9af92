package cos

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Cksum is a named checksum value (type + hex digest) used to verify
// split footers and jsp metadata envelopes.
type Cksum struct {
	Type  string `json:"ty"`
	Value string `json:"val"`
}

const ChecksumBlake2b = "blake2b"

// ComputeCksum hashes b with blake2b-256, used for footer integrity and
// jsp envelope integrity in place of a bare MD5.
func ComputeCksum(b []byte) Cksum {
	sum := blake2b.Sum256(b)
	return Cksum{Type: ChecksumBlake2b, Value: hex.EncodeToString(sum[:])}
}

func (c Cksum) Equal(other Cksum) bool {
	return c.Type == other.Type && c.Value == other.Value
}

func (c Cksum) String() string {
	if c.Value == "" {
		return "cksum(none)"
	}
	return c.Type + ":" + c.Value[:12]
}
