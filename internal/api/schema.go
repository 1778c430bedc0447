package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/craftcurio/marketplace/internal/models"
)

const maxBodyBytes = 1 << 20

const addressSchema = `{
  "type": "object",
  "properties": {
    "fullName": { "type": "string" },
    "street":   { "type": "string" },
    "city":     { "type": "string" },
    "state":    { "type": "string" },
    "zipCode":  { "type": "string" },
    "country":  { "type": "string" }
  }
}`

const money = `{ "type": ["number", "string"] }`

var (
	registerSchema = mustSchema(`{
  "type": "object",
  "required": ["email", "password", "name"],
  "properties": {
    "email":    { "type": "string", "minLength": 3 },
    "password": { "type": "string", "minLength": 8 },
    "name":     { "type": "string", "minLength": 1 }
  }
}`)

	loginSchema = mustSchema(`{
  "type": "object",
  "required": ["email", "password"],
  "properties": {
    "email":    { "type": "string" },
    "password": { "type": "string" }
  }
}`)

	createOrderSchema = mustSchema(`{
  "type": "object",
  "required": ["items", "shippingAddress", "subtotal", "shipping", "tax", "total"],
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["productId", "quantity"],
        "properties": {
          "productId": { "type": "string" },
          "quantity":  { "type": "integer" }
        }
      }
    },
    "shippingAddress": ` + addressSchema + `,
    "billingAddress":  ` + addressSchema + `,
    "subtotal": ` + money + `,
    "shipping": ` + money + `,
    "tax":      ` + money + `,
    "total":    ` + money + `,
    "paymentMethod": { "type": "string" },
    "notes":         { "type": "string" }
  }
}`)

	checkoutSchema = mustSchema(`{
  "type": "object",
  "required": ["shippingAddress"],
  "properties": {
    "shippingAddress": ` + addressSchema + `,
    "billingAddress":  ` + addressSchema + `,
    "shipping": ` + money + `,
    "tax":      ` + money + `,
    "paymentMethod": { "type": "string" },
    "notes":         { "type": "string" }
  }
}`)

	orderStatusSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "orderStatus":       { "type": "string" },
    "trackingNumber":    { "type": "string" },
    "estimatedDelivery": { "type": "string", "format": "date-time" }
  },
  "additionalProperties": false
}`)

	paymentStatusSchema = mustSchema(`{
  "type": "object",
  "required": ["paymentStatus"],
  "properties": {
    "paymentStatus": { "type": "string" }
  }
}`)

	shippingAddressSchema = mustSchema(`{
  "type": "object",
  "required": ["shippingAddress"],
  "properties": {
    "shippingAddress": ` + addressSchema + `
  }
}`)

	bulkUpdateSchema = mustSchema(`{
  "type": "object",
  "required": ["orderIds", "updates"],
  "properties": {
    "orderIds": { "type": "array", "minItems": 1, "items": { "type": "string" } },
    "updates":  { "type": "object", "minProperties": 1 }
  }
}`)

	createIntentSchema = mustSchema(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["orderId", "amount"],
  "properties": {
    "orderId": { "type": "string", "minLength": 1 },
    "amount":  { "type": "number", "exclusiveMinimum": 0 }
  }
}`)

	verifyPaymentSchema = mustSchema(`{
  "type": "object",
  "required": ["orderId", "razorpay_order_id", "razorpay_payment_id", "razorpay_signature"],
  "properties": {
    "orderId":             { "type": "string", "minLength": 1 },
    "razorpay_order_id":   { "type": "string", "minLength": 1 },
    "razorpay_payment_id": { "type": "string", "minLength": 1 },
    "razorpay_signature":  { "type": "string", "minLength": 1 }
  }
}`)

	paymentFailureSchema = mustSchema(`{
  "type": "object",
  "required": ["orderId"],
  "properties": {
    "orderId": { "type": "string", "minLength": 1 },
    "error":   { "type": ["object", "null"] }
  }
}`)

	refundSchema = mustSchema(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["paymentId"],
  "properties": {
    "paymentId": { "type": "string", "minLength": 1 },
    "amount":    { "type": ["number", "null"], "exclusiveMinimum": 0 }
  }
}`)

	createProductSchema = mustSchema(`{
  "type": "object",
  "required": ["kind", "name", "price"],
  "properties": {
    "kind":        { "type": "string", "enum": ["artisan-product", "collectible"] },
    "name":        { "type": "string" },
    "description": { "type": "string" },
    "price":       ` + money + `,
    "image":       { "type": "string" },
    "stock":       { "type": "integer", "minimum": 0 }
  }
}`)

	stockUpdateSchema = mustSchema(`{
  "type": "object",
  "required": ["stock", "version"],
  "additionalProperties": false,
  "properties": {
    "stock":   { "type": "integer", "minimum": 0 },
    "version": { "type": "integer", "minimum": 1 }
  }
}`)

	cartItemSchema = mustSchema(`{
  "type": "object",
  "required": ["productId"],
  "properties": {
    "productId": { "type": "string", "minLength": 1 },
    "quantity":  { "type": "integer", "minimum": 1 }
  }
}`)

	wishlistToggleSchema = mustSchema(`{
  "type": "object",
  "required": ["productId"],
  "properties": {
    "productId": { "type": "string", "minLength": 1 }
  }
}`)

	submitVerificationSchema = mustSchema(`{
  "type": "object",
  "required": ["documents"],
  "properties": {
    "documents": { "type": "array", "items": { "type": "string" } },
    "message":   { "type": "string" }
  }
}`)

	reviewVerificationSchema = mustSchema(`{
  "type": "object",
  "properties": {
    "notes": { "type": "string" }
  }
}`)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile schema: %v", err))
	}
	return schema
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, models.Invalid("body", "cannot read request body")
	}
	if len(body) > maxBodyBytes {
		return nil, models.Invalid("body", "request body too large")
	}
	return body, nil
}

// validateSchema checks body against schema. The returned validation error
// names the first offending field.
func validateSchema(schema *gojsonschema.Schema, body []byte) error {
	if len(body) == 0 {
		return models.Invalid("body", "request body is required")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return models.Invalid("body", "request body must be valid JSON")
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	field := schemaField(errs[0])
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, schemaMessage(e))
	}
	return models.Invalid(field, strings.Join(msgs, "; "))
}

func schemaField(e gojsonschema.ResultError) string {
	field := e.Field()
	if e.Type() == "required" {
		if prop, ok := e.Details()["property"].(string); ok {
			if field == "(root)" {
				return prop
			}
			return field + "." + prop
		}
	}
	return field
}

func schemaMessage(e gojsonschema.ResultError) string {
	if e.Type() == "required" {
		return schemaField(e) + " is required"
	}
	return e.Field() + ": " + e.Description()
}

// decodeBody validates the request body against schema and decodes it into dst.
func decodeBody(r *http.Request, schema *gojsonschema.Schema, dst any) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err := validateSchema(schema, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return models.Invalid(typeErr.Field, typeErr.Field+" has the wrong type")
		}
		return models.Invalid("body", "request body could not be decoded")
	}
	return nil
}
