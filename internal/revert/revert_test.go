package revert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeValidRevertReason(t *testing.T) {
	// Error(string) selector 0x08c379a0, offset 0x20, length 5, "hello" padded to a word.
	hexData := "0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000005" +
		"68656c6c6f000000000000000000000000000000000000000000000000000000"

	assert.Equal(t, "hello", Decode(hexData))
}

func TestDecodeWithoutHexPrefix(t *testing.T) {
	hexData := "08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000004" +
		"6f6f707300000000000000000000000000000000000000000000000000000000"

	assert.Equal(t, "oops", Decode(hexData))
}

func TestDecodeUnknownSelector(t *testing.T) {
	result := Decode("0xdeadbeef")
	assert.Contains(t, result, "unknown error format")
}

func TestDecodeInvalidHex(t *testing.T) {
	result := Decode("0xzzzz")
	assert.Contains(t, result, "failed to decode")
}

func TestDecodeTruncatedData(t *testing.T) {
	result := Decode("0x08c379a0000000")
	assert.Contains(t, result, "too short")
}

func TestReasonNilError(t *testing.T) {
	assert.Equal(t, "", Reason(nil))
}

func TestReasonFallsBackToErrorString(t *testing.T) {
	err := errors.New("connection refused")
	assert.Equal(t, "connection refused", Reason(err))
}
