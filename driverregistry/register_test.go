package driverregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/errors"
)

func TestRegister(t *testing.T) {
	f := driver.NewFactories()
	require.NoError(t, Register(f))
	assert.Equal(t, []string{"gps", "lasertransform", "motor", "ptz", "rfid"}, f.Names())

	for _, name := range []string{"gps", "motor", "ptz", "rfid"} {
		d, err := f.Create(name, nil)
		require.NoError(t, err, name)
		assert.Equal(t, name, d.(driver.Describer).Kind())
	}

	_, err := f.Create("lasertransform", []byte(`{"source":"10.0.0.1:6665:laser:0"}`))
	assert.NoError(t, err)
}

func TestRegister_Twice(t *testing.T) {
	f := driver.NewFactories()
	require.NoError(t, Register(f))
	err := Register(f)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegister_Nil(t *testing.T) {
	err := Register(nil)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}
