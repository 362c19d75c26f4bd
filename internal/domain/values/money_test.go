package values_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/distributed-auction-network/internal/domain/values"
)

func TestNewMoneyFromFloat(t *testing.T) {
	tests := []struct {
		name    string
		amount  float64
		wantErr bool
	}{
		{name: "positive amount", amount: 150.25},
		{name: "zero", amount: 0},
		{name: "negative amount", amount: -10},
		{name: "NaN rejected", amount: math.NaN(), wantErr: true},
		{name: "positive infinity rejected", amount: math.Inf(1), wantErr: true},
		{name: "negative infinity rejected", amount: math.Inf(-1), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := values.NewMoneyFromFloat(tt.amount)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.amount, m.ToFloat64(), 1e-9)
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := values.MustNewMoneyFromFloat(100.10)
	b := values.MustNewMoneyFromFloat(50.05)

	assert.True(t, a.Add(b).Equal(values.MustNewMoneyFromFloat(150.15)))
	assert.True(t, a.Sub(b).Equal(values.MustNewMoneyFromFloat(50.05)))
	assert.True(t, a.GreaterThan(b))
	assert.True(t, b.LessThan(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.True(t, a.Sub(a).IsZero())
	assert.True(t, b.Sub(a).IsNegative())
}

func TestMoneyPrecision(t *testing.T) {
	// 0.1 + 0.2 must be exactly 0.3 in decimal arithmetic.
	a, err := values.NewMoneyFromString("0.1")
	require.NoError(t, err)
	b, err := values.NewMoneyFromString("0.2")
	require.NoError(t, err)

	sum := a.Add(b)
	expected, err := values.NewMoneyFromString("0.3")
	require.NoError(t, err)
	assert.True(t, sum.Equal(expected), "got %s", sum)
}

func TestMoneyJSONRoundTrip(t *testing.T) {
	m := values.MustNewMoneyFromFloat(123.45)

	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded values.Money
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, m.Equal(decoded))
}

func TestMoneyJSONRejectsGarbage(t *testing.T) {
	var m values.Money
	assert.Error(t, json.Unmarshal([]byte(`"NaN"`), &m))
	assert.Error(t, json.Unmarshal([]byte(`"not a number"`), &m))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &m))
}
