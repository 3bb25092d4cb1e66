package credentials

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrInvalidJSON      = errors.New("invalid credentials JSON")
	ErrMissingProjectID = errors.New("missing project_id")
)

// Record is a parsed service account key. Raw holds the trimmed key material
// as supplied, which is what the signing primitive consumes.
type Record struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	ClientID     string `json:"client_id"`
	TokenURI     string `json:"token_uri"`

	Raw []byte `json:"-"`
}

// Parse decodes key material. It only checks that the material is a JSON
// object; call Validate before admitting the record anywhere.
func Parse(data []byte) (*Record, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidJSON)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	rec.Raw = data
	return &rec, nil
}

func (r *Record) Validate() error {
	if r.ProjectID == "" {
		return ErrMissingProjectID
	}
	return nil
}

// ErrorOffset returns the byte offset of a JSON syntax error wrapped in err,
// or -1 when err carries no position.
func ErrorOffset(err error) int64 {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return syntaxErr.Offset
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Offset
	}
	return -1
}
