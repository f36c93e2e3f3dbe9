package vision

import (
	"encoding/json"
	"strings"

	"github.com/starford/dagaz/internal/models"
)

// rawShape accepts the field spellings different models produce for the same
// extraction, plus the wrapper shapes some providers add around the payload.
type rawShape struct {
	Title       string `json:"title"`
	Name        string `json:"name"`
	StartDate   string `json:"start_date"`
	Date        string `json:"date"`
	EndDate     string `json:"end_date"`
	StartTime   string `json:"start_time"`
	Time        string `json:"time"`
	EndTime     string `json:"end_time"`
	Location    string `json:"location"`
	Venue       string `json:"venue"`
	Description string `json:"description"`
	Details     string `json:"details"`

	// Wrapper shape: the whole payload nested under a single key.
	Response json.RawMessage `json:"response"`
}

// DecodeExtraction turns a model's free-text reply into a RawExtraction.
// The reply may wrap its JSON object in markdown fences or surround it with
// prose, and may nest the payload under a "response" key; shape-detection
// rules are tried in order. When no usable JSON is found the extraction is
// empty except for RawResponse, which always keeps the verbatim reply.
func DecodeExtraction(reply string) *models.RawExtraction {
	out := &models.RawExtraction{RawResponse: reply}
	decodeInto(reply, out, 0)
	return out
}

// decodeInto applies the shape rules to text, recursing through at most two
// wrapper layers.
func decodeInto(text string, out *models.RawExtraction, depth int) {
	if depth > 2 {
		return
	}
	obj := extractJSONObject(text)
	if obj == "" {
		return
	}

	var shape rawShape
	if err := json.Unmarshal([]byte(obj), &shape); err != nil {
		return
	}

	// Wrapper: {"response": <string or object>} with no direct fields.
	if len(shape.Response) > 0 && !shape.hasFields() {
		var inner string
		if err := json.Unmarshal(shape.Response, &inner); err == nil {
			decodeInto(inner, out, depth+1)
		} else {
			decodeInto(string(shape.Response), out, depth+1)
		}
		return
	}

	out.Title = firstNonEmpty(shape.Title, shape.Name)
	out.StartDate = firstNonEmpty(shape.StartDate, shape.Date)
	out.EndDate = shape.EndDate
	out.StartTime = firstNonEmpty(shape.StartTime, shape.Time)
	out.EndTime = shape.EndTime
	out.Location = firstNonEmpty(shape.Location, shape.Venue)
	out.Description = firstNonEmpty(shape.Description, shape.Details)
}

func (s *rawShape) hasFields() bool {
	return s.Title != "" || s.Name != "" || s.StartDate != "" || s.Date != "" ||
		s.StartTime != "" || s.Time != "" || s.EndDate != "" || s.EndTime != "" ||
		s.Location != "" || s.Venue != "" || s.Description != "" || s.Details != ""
}

// extractJSONObject locates the outermost JSON object in text, tolerating
// markdown fences and prose before/after it.
func extractJSONObject(text string) string {
	text = stripFences(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// stripFences removes a surrounding ```/```json markdown fence if present.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if i := strings.Index(trimmed, "\n"); i >= 0 {
		trimmed = trimmed[i+1:] // drop the language tag line
	}
	if i := strings.LastIndex(trimmed, "```"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return trimmed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
