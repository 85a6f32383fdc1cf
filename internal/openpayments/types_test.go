package openpayments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePointer(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"$wallet.example/alice", "https://wallet.example/alice"},
		{"https://wallet.example/alice", "https://wallet.example/alice"},
		{"https://wallet.example/alice/", "https://wallet.example/alice"},
		{"$wallet.example", "https://wallet.example/.well-known/pay"},
		{"http://localhost:4000/bob", "http://localhost:4000/bob"},
	}
	for _, tc := range cases {
		got, err := NormalizePointer(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestNormalizePointerRejectsInvalid(t *testing.T) {
	for _, in := range []string{"", "   ", "wallet.example/alice", "ftp://wallet.example/a"} {
		_, err := NormalizePointer(in)
		assert.Error(t, err, "%q", in)
	}
}

func TestAmountDisplay(t *testing.T) {
	assert.Equal(t, "USD 5.02", Amount{Value: "502", AssetCode: "USD", AssetScale: 2}.Display())
	assert.Equal(t, "USD 0.05", Amount{Value: "5", AssetCode: "USD", AssetScale: 2}.Display())
	assert.Equal(t, "JPY 500", Amount{Value: "500", AssetCode: "JPY"}.Display())
	assert.Equal(t, "", Amount{AssetCode: "USD", AssetScale: 2}.Display())
}

func TestAmountValidate(t *testing.T) {
	assert.NoError(t, Amount{Value: "500", AssetCode: "USD", AssetScale: 2}.Validate())
	assert.Error(t, Amount{Value: "5.00", AssetCode: "USD"}.Validate())
	assert.Error(t, Amount{Value: "-5", AssetCode: "USD"}.Validate())
	assert.Error(t, Amount{Value: "", AssetCode: "USD"}.Validate())
	assert.Error(t, Amount{Value: "500"}.Validate())
}
