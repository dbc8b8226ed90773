// Package revert decodes the standard Error(string) ABI selector out of
// failed-transaction revert data, for attaching a human-readable reason to
// logs.
package revert

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// errorSelector is the first four bytes of keccak256("Error(string)").
var errorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}

// Reason extracts a human-readable revert reason from an error returned by
// a send or call. It unwraps rpc.DataError to find the attached revert
// data; if none is present, it falls back to the error's own message.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := dataErr.ErrorData(); data != nil {
			if hexStr, ok := data.(string); ok {
				return Decode(hexStr)
			}
		}
	}

	return err.Error()
}

// Decode parses ABI-encoded revert data in the Error(string) format and
// returns the embedded message. Unrecognized formats are returned as a
// description naming the raw hex for external lookup.
func Decode(hexData string) string {
	hexData = strings.TrimPrefix(hexData, "0x")

	data, err := hex.DecodeString(hexData)
	if err != nil || len(data) < 4 {
		return "failed to decode: " + hexData
	}

	if !bytes.Equal(data[:4], errorSelector) {
		return "unknown error format: 0x" + hexData
	}

	// selector (4) + offset (32) + length (32) = 68 bytes minimum
	if len(data) < 68 {
		return "revert data too short: 0x" + hexData
	}

	length := new(big.Int).SetBytes(data[36:68]).Uint64()
	if uint64(len(data)) < 68+length {
		return "revert data truncated: 0x" + hexData
	}

	return string(data[68 : 68+length])
}
