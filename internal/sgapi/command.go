package sgapi

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Device firmware commands are 7-byte values rendered as uppercase hex:
// 23BC opcode family, argument byte, sequence suffix, 0000 trailer.
const (
	CommandOn  = "23BC0100010000"
	CommandOff = "23BC0000010000"
)

// dimSequenceSuffix is always 01 on the wire. The firmware's meaning for
// this byte is unknown; the observed contract never varies it, so no
// sequence tracking is implemented.
const dimSequenceSuffix = "01"

// controlMessageType is the fixed numeric tag (0xFF03) the gateway expects
// in every extModelMessage tuple.
const controlMessageType = 65283

// EncodeDim builds the dim command for a brightness percent in [1,100].
func EncodeDim(percent int) (string, error) {
	if percent < 1 || percent > 100 {
		return "", fmt.Errorf("%w: brightness percent must be 1-100, got %d", ErrInvalidArgument, percent)
	}
	return fmt.Sprintf("23BC01%02X%s0000", percent, dimSequenceSuffix), nil
}

// controlFrame builds the socket.io-style text frame carrying a command:
// the literal packet-type marker "42" followed by the JSON tuple
// ["extModelMessage","s_<sector-lower>",<meshID>,65283,"<commandHex>"].
func controlFrame(sectorUUID string, meshID int, commandHex string) ([]byte, error) {
	msg := []any{
		"extModelMessage",
		"s_" + strings.ToLower(sectorUUID),
		meshID,
		controlMessageType,
		commandHex,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode control message: %w", ErrAPI, err)
	}
	return append([]byte("42"), data...), nil
}
