package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/dukex/labflow/pkg/models"
)

type fingerprintInput struct {
	Typing string            `json:"typing"`
	Config map[string]any    `json:"config"`
	Inputs map[string]string `json:"inputs"`
}

// Fingerprint identifies what a task execution depended on: its typing, its
// configuration and the resources bound to its inputs. Map keys are encoded
// in sorted order so equal inputs always hash the same.
func Fingerprint(process *models.ProcessModel) string {
	return fingerprint(process.Typing, process.Config, process.Inputs.ResourceIDs())
}

func fingerprint(typing string, config map[string]any, inputs map[string]string) string {
	if config == nil {
		config = map[string]any{}
	}

	data, err := json.Marshal(fingerprintInput{Typing: typing, Config: config, Inputs: inputs})
	if err != nil {
		// unencodable config never matches a stored fingerprint
		return ""
	}

	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
