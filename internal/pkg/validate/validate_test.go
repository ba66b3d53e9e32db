package validate

import (
	"errors"
	"testing"

	"github.com/nexus-verify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStruct_Valid(t *testing.T) {
	err := Struct(domain.ManualVerifyRequest{Identity: "123456789012345678", Origin: "203.0.113.5"})
	assert.NoError(t, err)
}

func TestStruct_MissingFields(t *testing.T) {
	err := Struct(domain.ManualVerifyRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBadRequest))
	assert.Contains(t, err.Error(), "field 'Identity' failed 'required'")
	assert.Contains(t, err.Error(), "field 'Origin' failed 'required'")
}

func TestStruct_BadOrigin(t *testing.T) {
	err := Struct(domain.ManualVerifyRequest{Identity: "1", Origin: "not-an-ip"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'Origin' failed 'ip'")
}
