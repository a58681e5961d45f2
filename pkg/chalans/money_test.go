package chalans

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	tests := []struct {
		in      string
		want    Money
		wantErr bool
	}{
		{"1500", 150000, false},
		{"1500.5", 150050, false},
		{"1500.05", 150005, false},
		{" 0.99 ", 99, false},
		{"-12.30", -1230, false},
		{"", 0, true},
		{"12.", 0, true},
		{".50", 0, true},
		{"1.234", 0, true},
		{"1.-5", 0, true},
		{"abc", 0, true},
		{"92233720368547758.07", 9223372036854775807, false},
		{"-92233720368547758.07", -9223372036854775807, false},
		{"92233720368547758.08", 0, true},
		{"92233720368547759", 0, true},
		{"184467440737095517", 0, true},
		{"184467440737095516.16", 0, true},
		{"99999999999999999999", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMoney(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_JSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Fee Money `json:"fee"`
	}{Fee: 150005})
	require.NoError(t, err)
	assert.JSONEq(t, `{"fee": "1500.05"}`, string(data))

	var in struct {
		A Money `json:"a"`
		B Money `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": "20.5", "b": 3}`), &in))
	assert.Equal(t, Money(2050), in.A)
	assert.Equal(t, Money(300), in.B)

	assert.Error(t, json.Unmarshal([]byte(`{"a": "x"}`), &in))
	assert.Equal(t, "-0.05", Money(-5).String())
}
