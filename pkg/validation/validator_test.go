package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markRequest struct {
	Bucket     string  `json:"bucket" validate:"required,bucket"`
	Multiplier float64 `json:"multiplier" validate:"gt=0"`
	Reason     string  `json:"reason" validate:"max=16"`
}

func TestStruct_Valid(t *testing.T) {
	assert.NoError(t, Struct(&markRequest{Bucket: "2012-05-05T20", Multiplier: 1.4}))
	assert.NoError(t, Struct(&markRequest{Bucket: "2012-05-05T20:13:00+00:00", Multiplier: 0.8}))
}

func TestStruct_Errors(t *testing.T) {
	err := Struct(&markRequest{Bucket: "May 5th", Multiplier: 0, Reason: "a very long reason indeed"})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 3)

	assert.Equal(t, "bucket", verr.Fields[0].Field)
	assert.Equal(t, "bucket must be an hour id like 2012-03-01T05", verr.Fields[0].Message)
	assert.Equal(t, "multiplier must be greater than 0", verr.Fields[1].Message)
	assert.Equal(t, "reason must be at most 16", verr.Fields[2].Message)
	assert.Contains(t, err.Error(), "; ")
}

func TestStruct_Required(t *testing.T) {
	err := Struct(&markRequest{Multiplier: 1})
	require.Error(t, err)
	assert.Equal(t, "bucket is required", err.Error())
}
