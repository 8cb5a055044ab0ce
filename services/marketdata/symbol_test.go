package marketdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockdash/services"
)

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "aapl", want: "AAPL"},
		{in: "  brk.b ", want: "BRK.B"},
		{in: "^gspc", want: "^GSPC"},
		{in: "rds-a", want: "RDS-A"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "AA PL", wantErr: true},
		{in: "AAPL;DROP", wantErr: true},
		{in: "ABCDEFGHIJKLMNOPQ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeSymbol(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, services.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSymbols(t *testing.T) {
	got, err := ParseSymbols("aapl, msft,,AAPL,tsla")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "MSFT", "TSLA"}, got)

	_, err = ParseSymbols(" , ")
	assert.ErrorIs(t, err, services.ErrInvalidInput)

	_, err = ParseSymbols("AAPL,b@d")
	assert.ErrorIs(t, err, services.ErrInvalidInput)
}
