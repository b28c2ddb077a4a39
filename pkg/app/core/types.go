package core

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
)

// Side is the book side an order rests on.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side an order of this side would match against.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Valid reports whether s is one of the two book sides.
func (s Side) Valid() bool { return s == Bid || s == Ask }

// ParseSide accepts "bid"/"buy" and "ask"/"sell" in any case.
func ParseSide(v string) (Side, error) {
	switch strings.ToLower(v) {
	case "bid", "buy":
		return Bid, nil
	case "ask", "sell":
		return Ask, nil
	default:
		return 0, fmt.Errorf("%w: unknown side %q", ErrInvalidInput, v)
	}
}

// OrderID is the engine-assigned 128-bit order identifier.
// Ids are issued in increasing order per market, so comparing two ids
// compares arrival order.
type OrderID struct {
	Hi uint64
	Lo uint64
}

// OrderIDFromSeq builds an id from a market sequence number.
func OrderIDFromSeq(seq uint64) OrderID { return OrderID{Lo: seq} }

func (id OrderID) IsZero() bool { return id.Hi == 0 && id.Lo == 0 }

// Cmp returns -1, 0 or +1.
func (id OrderID) Cmp(other OrderID) int {
	switch {
	case id.Hi < other.Hi:
		return -1
	case id.Hi > other.Hi:
		return 1
	case id.Lo < other.Lo:
		return -1
	case id.Lo > other.Lo:
		return 1
	}
	return 0
}

func (id OrderID) Less(other OrderID) bool { return id.Cmp(other) < 0 }

// Bytes returns the 16-byte big-endian encoding.
func (id OrderID) Bytes() [16]byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:], id.Lo)
	return b
}

// OrderIDFromBytes decodes the 16-byte big-endian encoding.
func OrderIDFromBytes(b []byte) OrderID {
	return OrderID{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

func (id OrderID) Big() *big.Int {
	b := id.Bytes()
	return new(big.Int).SetBytes(b[:])
}

// String renders the id in decimal.
func (id OrderID) String() string { return id.Big().String() }

func (id OrderID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *OrderID) UnmarshalText(text []byte) error {
	parsed, err := ParseOrderID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseOrderID parses a decimal or 0x-prefixed hex id.
func ParseOrderID(s string) (OrderID, error) {
	n, ok := new(big.Int).SetString(s, 0)
	if !ok || n.Sign() < 0 || n.BitLen() > 128 {
		return OrderID{}, fmt.Errorf("%w: bad order id %q", ErrInvalidInput, s)
	}
	var b [16]byte
	n.FillBytes(b[:])
	return OrderIDFromBytes(b[:]), nil
}
