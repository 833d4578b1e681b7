package provider

import "github.com/invopop/jsonschema"

// GenerateSchema reflects a strict JSON schema for T, suitable for
// structured-output requests. Fields without omitempty are required.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

func Temp(t float64) *float64 {
	return &t
}
