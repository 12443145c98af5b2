package streaming

import "encoding/json"

// Chunk is one (text, payload) tuple delivered to the caller. Text is the
// full accumulated output so far, not a delta.
type Chunk struct {
	Text     string
	Ext      json.RawMessage
	Finished bool
}

type finalPayload struct {
	Data     json.RawMessage `json:"data"`
	Finished bool            `json:"finished"`
}

// Payload returns nil when there is no side payload, the raw side payload on
// incremental chunks, and {"data": ext, "finished": true} on the final chunk.
func (c Chunk) Payload() json.RawMessage {
	if !c.Finished {
		if len(c.Ext) == 0 {
			return nil
		}
		return c.Ext
	}
	data := c.Ext
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	out, err := json.Marshal(finalPayload{Data: data, Finished: true})
	if err != nil {
		return nil
	}
	return out
}

func (c Chunk) MarshalJSON() ([]byte, error) {
	payload := c.Payload()
	if payload == nil {
		payload = json.RawMessage("null")
	}
	return json.Marshal(struct {
		Text string          `json:"text"`
		Ext  json.RawMessage `json:"ext"`
	}{Text: c.Text, Ext: payload})
}
