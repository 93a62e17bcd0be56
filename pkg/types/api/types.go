// Package api defines the JSON bodies accepted and returned by
// progres-apiserver, for use by HTTP clients.
package api

import (
	"encoding/base64"

	"github.com/turtacn/progres-go/pkg/errors"
)

// StructureUpload is a structure posted inline. Exactly one of Content and
// ContentBase64 must be set. Filename names the query and drives format
// guessing when no explicit format is given.
type StructureUpload struct {
	Filename      string `json:"filename"`
	ID            string `json:"id,omitempty"`
	Note          string `json:"note,omitempty"`
	Content       string `json:"content,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

// Bytes returns the decoded structure file. field names the upload in error
// messages.
func (u StructureUpload) Bytes(field string) ([]byte, error) {
	var data []byte
	switch {
	case u.Content != "" && u.ContentBase64 != "":
		return nil, errors.Newf(errors.ErrCodeBadRequest, "%s: content and content_base64 are mutually exclusive", field)
	case u.Content != "":
		data = []byte(u.Content)
	case u.ContentBase64 != "":
		b, err := base64.StdEncoding.DecodeString(u.ContentBase64)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBadRequest, field+": content_base64 is not valid base64")
		}
		data = b
	default:
		return nil, errors.Newf(errors.ErrCodeBadRequest, "%s: structure content is required", field)
	}
	if len(data) == 0 {
		return nil, errors.Newf(errors.ErrCodeBadRequest, "%s: structure content is empty", field)
	}
	return data, nil
}

// SearchRequest is the body of POST /api/v1/search. Omitted parameters take
// the server defaults; pointers distinguish an explicit zero from omission.
type SearchRequest struct {
	StructureUpload
	Database      string   `json:"database,omitempty"`
	Format        string   `json:"format,omitempty"`
	MinSimilarity *float64 `json:"min_similarity,omitempty"`
	MaxHits       *int     `json:"max_hits,omitempty"`
	Split         *bool    `json:"split,omitempty"`
}

// ScoreRequest is the body of POST /api/v1/score.
type ScoreRequest struct {
	A      StructureUpload `json:"a"`
	B      StructureUpload `json:"b"`
	Format string          `json:"format,omitempty"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}
