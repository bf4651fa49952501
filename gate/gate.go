// Package gate checks a request's method and parameter names against the
// allow-lists of the resource it targets. Both checks are pure and run before
// any storage access.
package gate

import (
	"sort"
	"strings"

	"github.com/Skryldev/socialhub/apierr"
)

// CheckMethod fails with apierr.ErrMethodNotAllowed when method is not in
// allowed. Comparison is case-insensitive.
func CheckMethod(method string, allowed []string) error {
	for _, m := range allowed {
		if strings.EqualFold(m, method) {
			return nil
		}
	}
	return apierr.MethodNotAllowed(strings.ToUpper(method))
}

// CheckParams fails with apierr.ErrInvalidParameter naming the first key, in
// sorted order, that is not in allowed.
func CheckParams(keys []string, allowed []string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}

	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, k := range sorted {
		if _, ok := set[k]; !ok {
			return apierr.InvalidParameter(k)
		}
	}
	return nil
}
