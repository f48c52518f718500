package server

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// createOrderSchema validates the checkout request body before any escrow
// work starts. Amounts are decimal strings; the codec does its own range
// and truncation handling.
const createOrderSchema = `{
  "type": "object",
  "required": ["product", "shippingAddress"],
  "properties": {
    "product": {
      "type": "object",
      "required": ["name", "price"],
      "properties": {
        "name":  {"type": "string", "minLength": 1},
        "image": {"type": "string"},
        "price": {"type": "string", "pattern": "^[0-9]+(\\.[0-9]+)?$"}
      }
    },
    "shippingAddress": {
      "type": "object",
      "required": ["fullName", "street", "city", "state", "zip"],
      "properties": {
        "fullName": {"type": "string", "minLength": 1},
        "email":    {"type": "string"},
        "street":   {"type": "string", "minLength": 1},
        "city":     {"type": "string"},
        "state":    {"type": "string"},
        "zip":      {"type": "string"}
      }
    }
  }
}`

var createOrderSchemaLoader = gojsonschema.NewStringLoader(createOrderSchema)

// validateCreateOrder checks the raw request body against the checkout
// schema, returning one error message per violation.
func validateCreateOrder(body []byte) []string {
	result, err := gojsonschema.Validate(createOrderSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return []string{fmt.Sprintf("invalid JSON body: %v", err)}
	}
	if result.Valid() {
		return nil
	}
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return errs
}
