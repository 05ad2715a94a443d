package mask

import (
	"fmt"
	"image/color"
	"strings"

	"github.com/gogpu/gg"
	"golang.org/x/image/colornames"
)

// ParseColour accepts a CSS colour name ("black", "rebeccapurple") or a hex
// value in #rgb, #rgba, #rrggbb or #rrggbbaa form.
func ParseColour(s string) (color.Color, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return nil, fmt.Errorf("empty colour")
	}
	if c, ok := colornames.Map[name]; ok {
		return c, nil
	}
	if name == "transparent" {
		return color.Transparent, nil
	}

	hex := strings.TrimPrefix(name, "#")
	switch len(hex) {
	case 3, 4, 6, 8:
	default:
		return nil, fmt.Errorf("unknown colour %q", s)
	}
	for _, r := range hex {
		if !strings.ContainsRune("0123456789abcdef", r) {
			return nil, fmt.Errorf("unknown colour %q", s)
		}
	}
	return gg.Hex(hex).Color(), nil
}
