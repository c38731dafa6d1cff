package codec

import (
	"encoding/json"

	"goflare.io/cinder/internal/models"
)

// JSON persists entries as JSON documents.
type JSON struct{}

func (JSON) Name() string { return JSONType }

func (JSON) Marshal(e *models.Entry) ([]byte, error) {
	return json.Marshal(e)
}

func (JSON) Unmarshal(data []byte, e *models.Entry) error {
	return json.Unmarshal(data, e)
}
