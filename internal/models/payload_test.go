package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/strongroom/internal/models"
)

func TestDataURI(t *testing.T) {
	raw := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}

	payload := models.EncodeDataURI("image/png", raw)
	assert.Equal(t, "data:image/png;base64,iVBORwD/", payload)

	mimeType, data, err := models.DecodeDataURI(payload)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, raw, data)
}

func TestDecodeDataURILenient(t *testing.T) {
	mimeType, data, err := models.DecodeDataURI("data:image/jpeg;base64, aGk=")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mimeType)
	assert.Equal(t, []byte("hi"), data)
}

func TestDecodeDataURIInvalid(t *testing.T) {
	inputs := []string{
		"",
		"image/png;base64,AA==",
		"data:image/png,AA==",
		"data:image/png;base64",
		"data:image/png;base64,***",
	}

	for _, in := range inputs {
		_, _, err := models.DecodeDataURI(in)
		assert.ErrorIs(t, err, models.ErrInvalidPayload, "input %q", in)
	}
}
