package notion

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/hermes/pkg/domain/model"
)

// ErrInvalidDatabaseID is returned when input is neither a Notion ID nor a
// Notion URL carrying one
var ErrInvalidDatabaseID = goerr.New("invalid Notion database ID", goerr.T(model.TagInput))

var hexID = regexp.MustCompile(`^[0-9a-f]{32}$`)

// ParseDatabaseID accepts a raw 32 hex ID, a dashed UUID or a notion.so URL
// and returns the dashed UUID form the API expects
func ParseDatabaseID(input string) (string, error) {
	input = strings.TrimSpace(input)

	var candidate string
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		u, err := url.Parse(input)
		if err != nil {
			return "", goerr.Wrap(ErrInvalidDatabaseID, "malformed URL", goerr.V("input", input))
		}
		if host := u.Hostname(); host != "www.notion.so" && host != "notion.so" {
			return "", goerr.Wrap(ErrInvalidDatabaseID, "not a Notion URL", goerr.V("input", input))
		}
		segments := strings.Split(strings.TrimRight(u.Path, "/"), "/")
		// The ID is the trailing 32 hex chars of the last segment, after an
		// optional title
		last := strings.ReplaceAll(segments[len(segments)-1], "-", "")
		if len(last) >= 32 {
			candidate = last[len(last)-32:]
		}
	} else {
		candidate = strings.ReplaceAll(input, "-", "")
	}

	candidate = strings.ToLower(candidate)
	if !hexID.MatchString(candidate) {
		return "", goerr.Wrap(ErrInvalidDatabaseID, "no database ID found", goerr.V("input", input))
	}

	c := candidate
	return c[0:8] + "-" + c[8:12] + "-" + c[12:16] + "-" + c[16:20] + "-" + c[20:32], nil
}
