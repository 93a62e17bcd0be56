package api

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/progres-go/pkg/errors"
)

func TestStructureUpload_Bytes(t *testing.T) {
	b, err := StructureUpload{Content: "ATOM"}.Bytes("query")
	require.NoError(t, err)
	assert.Equal(t, []byte("ATOM"), b)

	b, err = StructureUpload{ContentBase64: base64.StdEncoding.EncodeToString([]byte{0x1f, 0x8b})}.Bytes("query")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1f, 0x8b}, b)

	tests := []struct {
		name   string
		upload StructureUpload
		msg    string
	}{
		{"missing", StructureUpload{}, "query: structure content is required"},
		{"both", StructureUpload{Content: "a", ContentBase64: "YQ=="}, "mutually exclusive"},
		{"bad base64", StructureUpload{ContentBase64: "@@"}, "not valid base64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.upload.Bytes("query")
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeBadRequest))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestSearchRequest_FlattensUpload(t *testing.T) {
	var req SearchRequest
	require.NoError(t, json.Unmarshal([]byte(`{"filename":"q.pdb","content":"ATOM","max_hits":0}`), &req))
	assert.Equal(t, "q.pdb", req.Filename)
	assert.Equal(t, "ATOM", req.Content)
	require.NotNil(t, req.MaxHits)
	assert.Equal(t, 0, *req.MaxHits)
	assert.Nil(t, req.MinSimilarity)
}
