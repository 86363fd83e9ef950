// Package hwaddress parses the hardware address grammar:
//
//	ADDR  ::= TYPE "_" NUM [ ":" TYPE "_" NUM ]
//	TYPE  ::= "GPIO" | "BCM" | "BOARD" | "I2C" | "SPI"
//	NUM   ::= GPIO-pin | hex-i2c [ "#" channel "_" hex-i2c ]
//
// The literal "I2C_default" means "use the driver's default address". A
// colon-separated dual address encodes a composite hardware: the primary
// pin (on/off) and the secondary pin (PWM).
package hwaddress

import (
	"fmt"
	"strconv"
	"strings"
)

// Default is the special literal meaning "the driver's default address".
const Default = "I2C_default"

// BusType enumerates the supported address buses.
type BusType string

const (
	GPIO  BusType = "GPIO"
	BCM   BusType = "BCM"
	BOARD BusType = "BOARD"
	I2C   BusType = "I2C"
	SPI   BusType = "SPI"
)

var validBusTypes = map[string]bool{
	"GPIO": true, "BCM": true, "BOARD": true, "I2C": true, "SPI": true,
}

// Pin is one TYPE_NUM component of an address.
type Pin struct {
	Type BusType
	// Num holds the raw numeric/hex payload, e.g. "17" for a GPIO pin or
	// "0x76" / "0x76#1_0x70" for an I2C address with an optional multiplexer
	// channel selector.
	Num string
}

// Address is a parsed hardware address, optionally dual (primary + PWM pin).
type Address struct {
	Raw       string
	IsDefault bool
	Primary   Pin
	Secondary *Pin // non-nil only for dual (composite) addresses
}

// Parse parses raw into an Address, validating it against the grammar above.
func Parse(raw string) (Address, error) {
	if raw == Default {
		return Address{Raw: raw, IsDefault: true, Primary: Pin{Type: I2C, Num: "default"}}, nil
	}

	parts := strings.SplitN(raw, ":", 2)
	primary, err := parsePin(parts[0])
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	addr := Address{Raw: raw, Primary: primary}
	if len(parts) == 2 {
		secondary, err := parsePin(parts[1])
		if err != nil {
			return Address{}, fmt.Errorf("invalid address %q: %w", raw, err)
		}
		addr.Secondary = &secondary
	}
	return addr, nil
}

func parsePin(s string) (Pin, error) {
	idx := strings.Index(s, "_")
	if idx < 0 {
		return Pin{}, fmt.Errorf("missing '_' separator in %q", s)
	}
	typeStr, num := s[:idx], s[idx+1:]
	if !validBusTypes[typeStr] {
		return Pin{}, fmt.Errorf("unknown bus type %q", typeStr)
	}
	if num == "" {
		return Pin{}, fmt.Errorf("missing numeric payload in %q", s)
	}
	if typeStr == "GPIO" || typeStr == "BCM" || typeStr == "BOARD" {
		if _, err := strconv.Atoi(num); err != nil {
			return Pin{}, fmt.Errorf("invalid pin number %q: %w", num, err)
		}
	}
	return Pin{Type: BusType(typeStr), Num: num}, nil
}

// IsComposite reports whether addr encodes a dual (primary+PWM) hardware.
func (a Address) IsComposite() bool {
	return a.Secondary != nil
}

// String renders the address back to its canonical textual form.
func (a Address) String() string {
	return a.Raw
}
