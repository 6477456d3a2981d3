package mcpserver

import (
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/notebridge/internal/apperr"
)

// hints are user-facing suggestions attached to tool errors.
var hints = map[apperr.Kind]string{
	apperr.Validation:    "Check the parameters against the usage guide.",
	apperr.NotFound:      "The requested item was not found in Joplin.",
	apperr.Auth:          "Joplin rejected the API token. Check the token in the Web Clipper settings.",
	apperr.Unavailable:   "Cannot reach Joplin. Make sure it is running with the Web Clipper service enabled.",
	apperr.RateExhausted: "Too many requests. Wait a moment and try again.",
	apperr.BreakerOpen:   "Joplin has been failing repeatedly. Calls are paused briefly before retrying.",
	apperr.Internal:      "Unexpected error. Check the server log for details.",
}

type errorBody struct {
	Kind       apperr.Kind `json:"kind"`
	Message    string      `json:"message"`
	Hint       string      `json:"hint,omitempty"`
	RetryAfter float64     `json:"retry_after_seconds,omitempty"`
}

// errorResult renders err as {"error": {...}} in a tool error result.
func errorResult(err error) *mcp.CallToolResult {
	f := apperr.From(err)
	body := errorBody{
		Kind:    f.Kind,
		Message: f.Error(),
		Hint:    hints[f.Kind],
	}
	if f.RetryAfter > 0 {
		body.RetryAfter = f.RetryAfter.Round(time.Millisecond).Seconds()
	}
	data, _ := json.Marshal(map[string]errorBody{"error": body})
	return mcp.NewToolResultError(string(data))
}

// UsageGuide documents identifiers, limits and error kinds for tool
// callers.
const UsageGuide = `# notebridge tools

## Identifiers

Notes and notebooks are identified by 32 character hexadecimal ids as
returned by search_notes, list_notebooks and get_notes_in_notebook.
Ids are case-insensitive.

## Limits

| parameter | range | default |
|---|---|---|
| search_notes.query | 1-200 characters | required |
| search_notes.limit | 1-50 | 10 |
| get_notes_in_notebook.limit | 1-100 | 20 |
| get_notes_in_notebook.offset | >= 0 | 0 |
| title | 1-200 characters | required on create |
| body | up to 1 MB | empty |

## Ranking

Search results carry a score in [0, 1]: an exact title match scores 1.0,
a title substring 0.8, a body match 0.5 and a tag match 0.3. Each extra
matching field adds 0.1. Ties are broken by most recent update.

## Errors

Failed calls return {"error": {"kind", "message", "hint"}}. Kinds:

- validation: a parameter is missing or out of range. Do not retry unchanged.
- not_found: the note or notebook does not exist.
- auth: the Joplin API token was rejected.
- unavailable: Joplin could not be reached. Retry later.
- rate_exhausted: the request budget is spent. Retry after retry_after_seconds.
- breaker_open: Joplin is failing repeatedly. Retry after retry_after_seconds.
- internal: unexpected server error.
`
