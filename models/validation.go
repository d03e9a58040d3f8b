package models

import (
	"fmt"

	"github.com/mmdatafocus/bilan_backend/utils"
)

// ValidatePayload checks a decoded payload against its kind's schema. Valid convention party
// phones are rewritten to E.164.
func ValidatePayload(p DocumentPayload) error {
	if p == nil {
		return NewValidationError("payload is required", map[string]string{"Payload": "required"})
	}
	fields, err := utils.ValidateStruct(p)
	if err != nil {
		return NewValidationError(fmt.Sprintf("%s payload cannot be validated: %v", p.DocumentKind(), err), nil)
	}
	if fields == nil {
		fields = map[string]string{}
	}
	if c, ok := p.(payloadChecker); ok {
		for k, v := range c.check() {
			if _, exists := fields[k]; !exists {
				fields[k] = v
			}
		}
	}
	if conv, ok := p.(*ConventionPayload); ok {
		region := utils.PhoneRegion()
		for i, party := range conv.Parties {
			if party.Phone == "" {
				continue
			}
			if err := utils.ValidatePhoneNumber(party.Phone, region); err != nil {
				fields[fmt.Sprintf("Parties[%d].Phone", i)] = "phone"
				continue
			}
			if formatted, err := utils.FormatPhoneNumber(party.Phone, region); err == nil {
				conv.Parties[i].Phone = formatted
			}
		}
	}
	if len(fields) > 0 {
		return NewValidationError(fmt.Sprintf("%s payload is invalid", p.DocumentKind()), fields)
	}
	return nil
}

// ValidateInput validates a New* input struct with its validate tags.
func ValidateInput(input any) error {
	fields, err := utils.ValidateStruct(input)
	if err != nil {
		return NewValidationError(err.Error(), nil)
	}
	if len(fields) > 0 {
		return NewValidationError("invalid input", fields)
	}
	return nil
}
