package helper

import (
	"regexp"
	"strconv"
	"strings"
)

// Payment gateways echo external_reference strings back unchanged; tenants
// and orders are correlated by parsing them. The patterns are a wire contract
// with the checkout that builds the references: do not change them.
var (
	orderIDsRe = regexp.MustCompile(`orders:([0-9,]+)`)
	tenantIDRe = regexp.MustCompile(`tenant:([a-f0-9-]+)`)
)

// ParseOrderIDs extracts the order ids from an external_reference string like
// "tenant:3f2a...;orders:5,6,7". Malformed or missing segments yield an empty
// slice, never an error.
func ParseOrderIDs(ref string) []int64 {
	m := orderIDsRe.FindStringSubmatch(ref)
	if m == nil {
		return []int64{}
	}

	parts := strings.Split(m[1], ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

// ParseTenantID extracts the tenant id from an external_reference string.
// Returns "" when the segment is missing.
func ParseTenantID(ref string) string {
	m := tenantIDRe.FindStringSubmatch(ref)
	if m == nil {
		return ""
	}
	return m[1]
}
