package siev

import (
	"fmt"
	"testing"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInertialSentenceRoundTrip(t *testing.T) {
	in := InertialReading{Seq: 4711, Ax: 0.0123, Ay: -0.9876, Az: 0.1500}
	line := FormatInertialSentence(in)
	assert.Contains(t, line, "$PSIEV,4711,")

	out, err := ParseInertialSentence(line)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseRejectsBadChecksum(t *testing.T) {
	_, err := ParseInertialSentence("$PSIEV,1,0.0,0.0,1.0*00")
	assert.Error(t, err)
}

func TestParseRejectsOtherSentenceTypes(t *testing.T) {
	body := "GPZDA,160012.71,11,03,2004,-1,00"
	line := fmt.Sprintf("$%s*%s", body, nmea.Checksum(body))

	_, err := ParseInertialSentence(line)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected sentence type")
}

func TestParseRejectsShortSentence(t *testing.T) {
	body := "PSIEV,1,0.5"
	line := fmt.Sprintf("$%s*%s", body, nmea.Checksum(body))
	_, err := ParseInertialSentence(line)
	assert.Error(t, err)
}
