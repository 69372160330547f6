package util

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseSize converts a human readable size string ("2048", "64K", "2M",
// "1GB") into bytes. Suffixes are case insensitive and use 1024 multipliers.
func ParseSize(size string) (int64, error) {
	s := strings.TrimSpace(size)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("invalid size string: %q", size)
	}

	value, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size string: %q", size)
	}

	var mult int64
	switch strings.ToUpper(strings.TrimSpace(s[i:])) {
	case "", "B":
		mult = 1
	case "K", "KB":
		mult = 1 << 10
	case "M", "MB":
		mult = 1 << 20
	case "G", "GB":
		mult = 1 << 30
	default:
		return 0, fmt.Errorf("unknown size suffix in %q", size)
	}

	return value * mult, nil
}

// ParseBool interprets the usual configuration spellings of a boolean.
func ParseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "on", "yes", "1":
		return true, nil
	case "false", "off", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean value: %q", value)
}
