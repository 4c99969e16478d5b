package layer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigurationCounts(t *testing.T) {
	c := NewConfiguration(3, 4, 5)
	assert.Equal(t, 20, c.NeuronCountPerFeatureMap())
	assert.Equal(t, 60, c.NeuronCount())
	assert.Equal(t, "3:4x5", c.String())
	assert.Equal(t, "6", NewConfiguration(6).String())
	assert.Equal(t, 6, NewConfiguration(6).NeuronCount())
}

func TestConfigurationCovers(t *testing.T) {
	a := NewConfiguration(2, 4, 4)
	assert.True(t, a.Covers(NewConfiguration(2, 4, 3)))
	assert.True(t, a.Covers(a))
	assert.False(t, a.Covers(NewConfiguration(3, 4, 4)))
	assert.False(t, a.Covers(NewConfiguration(2, 5, 4)))
	assert.False(t, a.Covers(NewConfiguration(2, 16)))
}

func TestConfigurationValidate(t *testing.T) {
	assert.NoError(t, NewConfiguration(1, 2).Validate("x"))
	assert.Error(t, NewConfiguration(0, 2).Validate("x"))
	assert.Error(t, NewConfiguration(1, 0).Validate("x"))
}

func TestParseConfiguration(t *testing.T) {
	c, err := ParseConfiguration("3:4x5")
	assert.NoError(t, err)
	assert.Equal(t, NewConfiguration(3, 4, 5), c)

	c, err = ParseConfiguration(" 6 ")
	assert.NoError(t, err)
	assert.Equal(t, 6, c.FeatureMaps)
	assert.Empty(t, c.Dims)

	for _, bad := range []string{"", "x", "1:", "1:4xa", "0:4", "1:0x3"} {
		_, err := ParseConfiguration(bad)
		assert.Error(t, err, bad)
	}
}

func TestConfigurationCloneIsDeep(t *testing.T) {
	a := NewConfiguration(1, 2, 3)
	b := a.Clone()
	b.Dims[0] = 9
	assert.Equal(t, 2, a.Dims[0])
	assert.True(t, a.Equal(NewConfiguration(1, 2, 3)))
}

func TestDataConfig(t *testing.T) {
	d := DataConfig{6, 2}
	assert.Equal(t, 8, d.Total())
	assert.Equal(t, int64(32), d.Bytes())
	v := d.Allocate()
	assert.Len(t, v, 2)
	assert.Len(t, v[0], 6)
}

func TestTilingFactorArithmetic(t *testing.T) {
	two, three := Tiling(2), Tiling(3)
	six := two.Mul(three)
	assert.Equal(t, 6, six.Int())
	assert.Equal(t, "6", six.String())
	assert.True(t, six.Mul(six.Inverse()).IsOne())
	assert.True(t, TilingFactor{}.IsOne())
	assert.True(t, six.ExceedsOne())
	assert.False(t, six.Inverse().ExceedsOne())

	half := two.Inverse()
	assert.Equal(t, 0, half.Int())
	n, ok := half.Entries(4)
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	_, ok = half.Entries(3)
	assert.False(t, ok)

	assert.True(t, TilingFactor{Num: 4, Den: 6}.Equal(TilingFactor{Num: 2, Den: 3}))
	assert.Equal(t, 12, LCM(4, 6))
}
