package webhook

import (
	"encoding/json"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const pushSchemaURL = "https://annotrack.local/schemas/push.json"

const pushSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["ref", "pusher"],
  "properties": {
    "ref": {"type": "string", "minLength": 1},
    "pusher": {"type": "object"},
    "repository": {"type": "object"}
  }
}`

func compilePushSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(pushSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(pushSchemaURL, doc); err != nil {
		return nil, err
	}
	return c.Compile(pushSchemaURL)
}

// SamplePush builds a minimal push payload for ref, used to trigger a sync
// against this server's own webhook.
func SamplePush(ref, repository string) []byte {
	body, _ := json.Marshal(map[string]any{
		"ref":        ref,
		"pusher":     map[string]string{"name": "annotrack"},
		"repository": map[string]string{"full_name": repository},
	})
	return body
}
