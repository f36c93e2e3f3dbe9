package vision

// extractionPrompt instructs the vision model to return the event fields as
// a bare JSON object. Models routinely ignore the "no markdown" instruction,
// so DecodeExtraction tolerates fenced and prose-wrapped replies anyway.
const extractionPrompt = `You are looking at a photo of a flyer, poster, or handwritten note that
describes an event. Extract the event details and reply with a single JSON
object using exactly these keys (omit keys you cannot determine):

{
  "title": "event name",
  "start_date": "date the event starts, as printed",
  "end_date": "date the event ends, if different",
  "start_time": "time the event starts, as printed",
  "end_time": "time the event ends, if printed",
  "location": "venue or address",
  "description": "any other useful details, one short paragraph"
}

Rules:
- Copy dates and times as they appear; do not convert formats or timezones.
- Do not invent values. Omit a key rather than guessing.
- Reply with the JSON object only: no markdown fences, no commentary.`
