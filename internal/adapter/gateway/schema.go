package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"

	"agenthub/internal/domain"
)

// messageSendSchema describes the message.send payload. Unknown fields are
// tolerated so clients may echo back whole envelopes.
const messageSendSchema = `{
  "type": "object",
  "required": ["from", "to", "type"],
  "properties": {
    "from":            {"type": "string", "minLength": 1},
    "to":              {"type": "string", "minLength": 1},
    "type":            {"enum": ["INFO", "TASK", "RESULT", "CONFIRMATION", "END"]},
    "intent":          {"type": "string"},
    "content":         {"type": "string"},
    "confidence":      {"type": "number", "minimum": 0, "maximum": 1},
    "tokens":          {"type": "integer", "minimum": 0},
    "metadata":        {"type": "object"},
    "conversation_id": {"type": "string"}
  }
}`

var compiledMessageSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.NewCompiler().Compile([]byte(messageSendSchema))
})

// decodeMessage validates payload against the message.send schema and
// decodes it. Any failure is ErrInvalidInput.
func decodeMessage(payload json.RawMessage) (domain.Message, error) {
	const op = "gateway.message.send"

	schema, err := compiledMessageSchema()
	if err != nil {
		return domain.Message{}, fmt.Errorf("compile message schema: %w", err)
	}

	var raw any
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.Message{}, domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}
	if result := schema.Validate(raw); !result.IsValid() {
		return domain.Message{}, domain.NewDomainError(op, domain.ErrInvalidInput, result.Error())
	}

	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return domain.Message{}, domain.NewDomainError(op, domain.ErrInvalidInput, err.Error())
	}
	return msg, nil
}
