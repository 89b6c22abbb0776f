package amount

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegimeFor(t *testing.T) {
	require.Equal(t, RegimeCGSTSGST, RegimeFor("27AAPFU0939F1ZV", "27ABCDE1234F1Z5"))
	require.Equal(t, RegimeIGST, RegimeFor("27AAPFU0939F1ZV", "29ABCDE1234F1Z5"))
	require.Equal(t, RegimeIGST, RegimeFor("", "29ABCDE1234F1Z5"))
	require.Equal(t, RegimeIGST, RegimeFor("27AAPFU0939F1ZV", " "))
}

func TestApplyRegimeSplitsRate(t *testing.T) {
	line := ApplyRegime(LineItem{ProductRef: 1, IGSTPercent: Percent("18")}, RegimeCGSTSGST, dec("18"))
	require.Nil(t, line.IGSTPercent)
	require.True(t, line.CGSTPercent.Equal(dec("9")))
	require.True(t, line.SGSTPercent.Equal(dec("9")))
	regime, ok := line.Regime()
	require.True(t, ok)
	require.Equal(t, RegimeCGSTSGST, regime)

	line = ApplyRegime(line, RegimeIGST, dec("5"))
	require.Nil(t, line.CGSTPercent)
	require.True(t, line.IGSTPercent.Equal(dec("5")))
	require.True(t, line.GSTPercent().Equal(dec("5")))
}
