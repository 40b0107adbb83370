// Package frames extracts pixel data frames and converts them between
// transfer syntaxes.
package frames

import (
	"strconv"
	"strings"

	"github.com/otcheredev/dicomweb-gateway/internal/apierr"
)

// ParseList reads a comma-separated list of 1-based frame numbers, as
// found in the last component of a frames URL. An empty list selects
// every frame and yields nil.
func ParseList(source string) ([]int, error) {
	source = strings.ToLower(source)
	source = strings.ReplaceAll(source, "%2c", ",")

	var list []int
	for _, token := range strings.Split(source, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		n, err := strconv.Atoi(token)
		if err != nil {
			return nil, apierr.Newf(apierr.BadRequest, "invalid frame number: %s", token)
		}
		if n <= 0 {
			return nil, apierr.Newf(apierr.ParameterOutOfRange, "invalid frame number (must be > 0): %s", token)
		}
		list = append(list, n)
	}
	return list, nil
}
