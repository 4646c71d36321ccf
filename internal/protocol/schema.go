package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://pixelpandemonium.ai/schemas/"

var ErrUnknownRoute = errors.New("unknown intent route")

// IntentValidator checks intent payload shapes at the transport boundary.
// Domain rules (index range, balances, known kinds) stay in the model.
type IntentValidator struct {
	byRoute map[Route]*jsonschema.Schema
}

func NewIntentValidator() (*IntentValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	v := &IntentValidator{byRoute: map[Route]*jsonschema.Schema{}}
	for _, r := range Intents {
		name := r.Name + ".schema.json"
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema %s: %w", name, err)
		}
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return nil, fmt.Errorf("compile %s: %w", name, err)
		}
		v.byRoute[r] = s
	}
	return v, nil
}

func (v *IntentValidator) Validate(scope, name string, payload []byte) error {
	s, ok := v.byRoute[Route{Scope: scope, Name: name}]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownRoute, scope, name)
	}
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return s.Validate(doc)
}
