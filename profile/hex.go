package profile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Hex is a number written either as a JSON number or as a "0x..." string.
type Hex uint64

func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("%#x", uint64(h)))
}

func (h *Hex) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n uint64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("hex value %s: want a number or \"0x...\" string", data)
		}
		*h = Hex(n)
		return nil
	}

	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), base, 64)
	if err != nil {
		return fmt.Errorf("hex value %q: %w", s, err)
	}
	*h = Hex(n)
	return nil
}
