package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	require.NoError(t, Register("test-upper", Job{Description: "upper", Source: "function map(l) { return []; }"}))
	require.NoError(t, Register("test-lower", Job{Source: "function map(l) { return []; }"}))

	job, err := Get("test-upper")
	require.NoError(t, err)
	assert.Equal(t, "test-upper", job.Name)
	assert.Equal(t, "upper", job.Description)

	err = Register("test-upper", Job{Source: "x"})
	assert.ErrorContains(t, err, "already registered")

	names := List()
	assert.Subset(t, names, []string{"test-lower", "test-upper"})
	assert.IsNonDecreasing(t, names)
}

func TestRegister_Invalid(t *testing.T) {
	assert.Error(t, Register("", Job{Source: "x"}))
	assert.Error(t, Register("test-empty", Job{Source: "  "}))
}

func TestGet_Unknown(t *testing.T) {
	_, err := Get("does-not-exist")
	assert.ErrorContains(t, err, "job not found")
}
