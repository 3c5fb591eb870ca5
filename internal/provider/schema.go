package provider

import (
	"google.golang.org/genai"

	"loremaster/internal/engine"
)

// convertSchemaToGemini converts a JSON Schema to a Gemini Schema.
func convertSchemaToGemini(schema *engine.JSONSchema) *genai.Schema {
	if schema == nil {
		return nil
	}

	out := &genai.Schema{
		Description: schema.Description,
	}

	switch schema.Type {
	case "string":
		out.Type = genai.TypeString
		if len(schema.Enum) > 0 {
			out.Enum = schema.Enum
		}
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if schema.Items != nil {
			out.Items = convertSchemaToGemini(schema.Items)
		}
	case "object":
		out.Type = genai.TypeObject
		if len(schema.Properties) > 0 {
			out.Properties = make(map[string]*genai.Schema)
			for name, prop := range schema.Properties {
				out.Properties[name] = convertSchemaToGemini(prop)
			}
		}
		out.Required = schema.Required
	default:
		// Default to string for unknown types
		out.Type = genai.TypeString
	}

	return out
}
