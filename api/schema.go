package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const schemaStatusChange = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["order_status"],
  "properties": {
    "order_status": {
      "type": "string",
      "enum": ["PENDING", "PROCESSING", "SHIPPED", "DELIVERED", "UNDELIVERED", "CANCELLED"]
    }
  },
  "additionalProperties": false
}`

const schemaPaymentDecision = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["action"],
  "properties": {
    "action": { "type": "string", "enum": ["approve", "decline"] },
    "payment_id": { "type": "string", "maxLength": 128 },
    "receipt_id": { "type": "string", "maxLength": 128 }
  },
  "additionalProperties": false
}`

var (
	statusChangeLoader    = gojsonschema.NewStringLoader(schemaStatusChange)
	paymentDecisionLoader = gojsonschema.NewStringLoader(schemaPaymentDecision)
)

func validateJSONSchema(schemaLoader gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("request does not conform to schema: %s", strings.Join(msgs, "; "))
	}
	return nil
}
