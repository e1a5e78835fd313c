package platform

import (
	"fmt"
	"strings"
)

// Vendor keys. The set is closed: a platform matching none of them is rejected.
const (
	KeyNvidia = "nvidia"
	KeyAMD    = "amd"
	KeyIntel  = "intel"
	KeyApple  = "apple"
)

// KeyUnset asks for the first platform in key order.
const KeyUnset = "-1"

// Classify maps a platform vendor string to its vendor key.
func Classify(vendor string) (string, error) {
	v := strings.ToLower(vendor)
	switch {
	case strings.Contains(v, "nvidia"):
		return KeyNvidia, nil
	case strings.Contains(v, "advanced micro devices"), strings.Contains(v, "amd"):
		return KeyAMD, nil
	case strings.Contains(v, "intel"):
		return KeyIntel, nil
	case strings.Contains(v, "apple"):
		return KeyApple, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVendor, vendor)
}

func isUnset(key string) bool {
	return key == "" || key == KeyUnset
}
