package platform

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ResidentMemory returns the resident set size of the current process in
// bytes, read from <procRoot>/self/statm. It returns -1 when the value
// cannot be read.
func ResidentMemory(procRoot string) int64 {
	data, err := os.ReadFile(filepath.Join(procRoot, "self", "statm"))
	if err != nil {
		return -1
	}

	// statm: size resident shared text lib data dt (in pages)
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return -1
	}

	pages, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || pages < 0 {
		return -1
	}

	return pages * int64(os.Getpagesize())
}
