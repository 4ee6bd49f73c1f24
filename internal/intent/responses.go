package intent

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
)

// IntentDefinition is one entry in the intents file: the example
// utterances the corpus is built from and the canned replies served
// when the intent matches.
type IntentDefinition struct {
	Patterns  []string `json:"patterns"`
	Responses []string `json:"responses"`
}

// ResponseCatalog holds the canned replies keyed by intent name.
type ResponseCatalog struct {
	intents map[string]IntentDefinition
}

// LoadResponseCatalog reads the intents JSON file. The file maps
// intent names to their patterns and responses and must include an
// entry for the invalid intent.
func LoadResponseCatalog(path string) (*ResponseCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("intent: read intents file: %w", err)
	}
	return ParseResponseCatalog(data)
}

func ParseResponseCatalog(data []byte) (*ResponseCatalog, error) {
	var intents map[string]IntentDefinition
	if err := json.Unmarshal(data, &intents); err != nil {
		return nil, fmt.Errorf("intent: parse intents file: %w", err)
	}
	if _, ok := intents[IntentInvalid]; !ok {
		return nil, fmt.Errorf("intent: intents file is missing the %q entry", IntentInvalid)
	}
	return &ResponseCatalog{intents: intents}, nil
}

// Respond picks one canned reply for the intent. Unknown intents fall
// back to the invalid responses.
func (c *ResponseCatalog) Respond(intentName string) string {
	def, ok := c.intents[intentName]
	if !ok || len(def.Responses) == 0 {
		def = c.intents[IntentInvalid]
	}
	if len(def.Responses) == 0 {
		return "Sorry, I didn't understand that."
	}
	return def.Responses[rand.Intn(len(def.Responses))]
}

// Definitions returns all intents for corpus building.
func (c *ResponseCatalog) Definitions() map[string]IntentDefinition {
	return c.intents
}
