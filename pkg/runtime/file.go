package runtime

import (
	"fmt"
	"os"
	"strconv"
)

// parseFileMode reads an octal mode string such as "0644" or "755".
// Symbolic specs like "u+x" are not understood.
func parseFileMode(value string) (os.FileMode, error) {
	bits, err := strconv.ParseUint(value, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid file mode %q: want an octal string like 0644", value)
	}
	return os.FileMode(bits), nil
}
