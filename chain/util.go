package chain

import (
	"strconv"

	"github.com/hashledger/hashledger/apperr"
	"github.com/hashledger/hashledger/bbs"
	"github.com/hashledger/hashledger/hexcodec"
)

func hexToBytes(s string) ([]byte, error) {
	b, err := hexcodec.Parse(s)
	if err != nil {
		return nil, apperr.Wrap(400, apperr.CodeInvalidHex, "expected hex-encoded field", err)
	}
	return b, nil
}

func decodeGroupSignature(s string) (*bbs.GroupSignature, error) {
	b, err := hexToBytes(s)
	if err != nil {
		return nil, err
	}
	return bbs.UnmarshalSignature(b)
}

func itoa(i int64) string { return strconv.FormatInt(i, 10) }
