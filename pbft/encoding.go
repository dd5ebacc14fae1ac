package pbft

import (
	"time"

	"github.com/ethereum/go-ethereum/rlp"
)

func clockNowUnix() int64 { return time.Now().Unix() }

func rlpEncode(v interface{}) ([]byte, error) {
	return rlp.EncodeToBytes(v)
}

func rlpDecodeInto(data []byte, v interface{}) error {
	return rlp.DecodeBytes(data, v)
}
