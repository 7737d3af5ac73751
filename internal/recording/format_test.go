package recording

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/vng_computer/internal/sample"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rec.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const goodHeader = "timestamp,left_x,left_y,right_x,right_y,aux_x,aux_y,left_detected,right_detected\n"

func TestLoadRejectsForeignHeader(t *testing.T) {
	path := writeCSV(t, "time,x,y\n1,2,3\n")
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsReorderedHeader(t *testing.T) {
	path := writeCSV(t, "left_x,timestamp,left_y,right_x,right_y,aux_x,aux_y,left_detected,right_detected\n")
	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column 0")
}

func TestLoadRejectsMalformedRow(t *testing.T) {
	// One bad row poisons the whole load; no partial data comes back.
	body := goodHeader +
		"0.01,320,240,410,240,0,0,true,true\n" +
		"0.02,not-a-number,240,410,240,0,0,true,true\n"
	samples, _, err := Load(writeCSV(t, body))
	assert.Error(t, err)
	assert.Nil(t, samples)
}

func TestLoadRejectsShortRow(t *testing.T) {
	body := goodHeader + "0.01,320,240,410,240,0,0,true\n"
	samples, _, err := Load(writeCSV(t, body))
	assert.Error(t, err)
	assert.Nil(t, samples)
}

func TestLoadEmptyCellsMeanMissingEye(t *testing.T) {
	body := goodHeader + "0.01,,,410,240,0,0,false,true\n"
	samples, _, err := Load(writeCSV(t, body))
	require.NoError(t, err)
	require.Len(t, samples, 1)

	assert.Nil(t, samples[0].LeftEye)
	require.NotNil(t, samples[0].RightEye)
	assert.Equal(t, 410.0, samples[0].RightEye.X)
	assert.False(t, samples[0].LeftDetected)
	assert.True(t, samples[0].RightDetected)
}

func TestLoadWithoutSidecar(t *testing.T) {
	body := goodHeader + "0.01,320,240,410,240,0,0,true,true\n"
	samples, meta, err := Load(writeCSV(t, body))
	require.NoError(t, err)
	assert.Len(t, samples, 1)
	assert.Equal(t, 1, meta.TotalSamples)
	assert.Equal(t, FormatVersion, meta.Version)
}

func TestEncodeDecodeRow(t *testing.T) {
	in := sample.Sample{
		Timestamp:     12.345,
		LeftEye:       &sample.Point{X: 1.25, Y: -3.5},
		Aux:           sample.Point{X: 0.5, Y: 0.75},
		LeftDetected:  true,
		RightDetected: false,
	}
	out, err := decodeRow(encodeRow(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRowWrongWidth(t *testing.T) {
	_, err := decodeRow([]string{"1", "2"})
	assert.Error(t, err)
}
