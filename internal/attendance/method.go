package attendance

import (
	"strings"

	"smartattend/internal/apperr"
)

// Method is a set of verification factors a join exercised.
type Method uint8

const (
	MethodCode Method = 1 << iota
	MethodProximity
	MethodBiometric
	MethodManual

	methodMask = MethodCode | MethodProximity | MethodBiometric | MethodManual
)

// allMethods is the canonical serialization order.
var allMethods = []Method{MethodCode, MethodProximity, MethodBiometric, MethodManual}

// Has reports whether every factor in f is part of m.
func (m Method) Has(f Method) bool { return f != 0 && m&f == f }

// Valid reports whether m names at least one known factor and nothing else.
func (m Method) Valid() bool { return m != 0 && m&^methodMask == 0 }

func (m Method) name() string {
	switch m {
	case MethodCode:
		return "code"
	case MethodProximity:
		return "proximity"
	case MethodBiometric:
		return "biometric"
	case MethodManual:
		return "manual"
	}
	return ""
}

// String joins the factor names in canonical order, e.g. "code+proximity".
func (m Method) String() string {
	var parts []string
	for _, f := range allMethods {
		if m.Has(f) {
			parts = append(parts, f.name())
		}
	}
	return strings.Join(parts, "+")
}

// ParseMethod accepts a single factor or a composite joined by '+' or ','.
// Legacy client names (qr, facial, qr-proximity) are accepted as aliases.
func ParseMethod(s string) (Method, error) {
	var m Method
	for _, part := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == '+' || r == ',' }) {
		switch strings.TrimSpace(part) {
		case "code", "qr":
			m |= MethodCode
		case "proximity":
			m |= MethodProximity
		case "biometric", "facial", "face":
			m |= MethodBiometric
		case "manual":
			m |= MethodManual
		case "qr-proximity":
			m |= MethodCode | MethodProximity
		default:
			return 0, apperr.New(apperr.KindValidation, "method.parse", "unknown attendance method "+strings.TrimSpace(part))
		}
	}
	if m == 0 {
		return 0, apperr.New(apperr.KindValidation, "method.parse", "attendance method is required")
	}
	return m, nil
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
