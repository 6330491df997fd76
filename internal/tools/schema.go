// Package tools handles the function calls a live model issues against the
// local device. It declares the controlDevice tool, normalises spoken actions
// to canonical intents and turns each call into a spoken confirmation plus a
// correlated response.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/MrWong99/sharon/pkg/provider/s2s"
)

// ControlDeviceName is the function name the model calls to drive the device.
const ControlDeviceName = "controlDevice"

// controlDeviceDescription is shown to the model alongside the schema.
const controlDeviceDescription = "Contrôle l'appareil : appels, messages WhatsApp, applications, lampe torche ou alarme."

// ErrMissingAction is returned by ParseArgs when the call carries no action.
var ErrMissingAction = errors.New("tools: missing action")

// ControlDeviceArgs are the arguments of a controlDevice call.
type ControlDeviceArgs struct {
	Action  string `json:"action" jsonschema:"description=Action à effectuer: call ou whatsapp_call ou send_message ou open_app ou toggle_flashlight ou set_alarm"`
	Target  string `json:"target,omitempty" jsonschema:"description=Contact ou application visé"`
	Message string `json:"message,omitempty" jsonschema:"description=Texte du message à envoyer"`
}

// ParseArgs decodes raw call arguments. Unknown keys are ignored; a missing
// or blank action yields ErrMissingAction.
func ParseArgs(raw map[string]any) (ControlDeviceArgs, error) {
	var args ControlDeviceArgs
	data, err := json.Marshal(raw)
	if err != nil {
		return args, fmt.Errorf("tools: encode args: %w", err)
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return args, fmt.Errorf("tools: decode args: %w", err)
	}
	args.Action = strings.TrimSpace(args.Action)
	args.Target = strings.TrimSpace(args.Target)
	if args.Action == "" {
		return args, ErrMissingAction
	}
	return args, nil
}

// ControlDeviceDeclaration returns the controlDevice tool descriptor with its
// parameter schema reflected from [ControlDeviceArgs].
func ControlDeviceDeclaration() s2s.ToolDefinition {
	return s2s.ToolDefinition{
		Name:        ControlDeviceName,
		Description: controlDeviceDescription,
		Parameters:  reflectParameters(&ControlDeviceArgs{}),
	}
}

// reflectParameters produces the OpenAPI-style subset the Live API accepts:
// type, properties, required and descriptions.
func reflectParameters(v any) map[string]any {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		// Reflecting a fixed struct cannot produce unmarshalable output.
		panic("tools: marshal schema: " + err.Error())
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		panic("tools: unmarshal schema: " + err.Error())
	}
	prune(out)
	return out
}

func prune(m map[string]any) {
	delete(m, "$schema")
	delete(m, "$id")
	delete(m, "additionalProperties")
	if props, ok := m["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				prune(pm)
			}
		}
	}
}
