package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMarkerUnique(t *testing.T) {
	a := NewMarker()
	b := NewMarker()

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "GSMARK_"))
}

func TestEncodeAppendsMarkerEcho(t *testing.T) {
	marker := NewMarker()
	payload := Encode("ls -la", marker)

	assert.True(t, strings.HasPrefix(payload, "ls -la\n"))
	assert.Contains(t, payload, marker)
	assert.Contains(t, payload, "$__gs_rc")
	assert.True(t, strings.HasSuffix(payload, "\n"))
}

func TestDecoderParsesCompletion(t *testing.T) {
	marker := NewMarker()
	d := NewDecoder(marker)

	d.Feed([]byte("file1\nfile2\n"))
	require.Nil(t, d.Completion())

	d.Feed([]byte(marker + " 0 /home/user\n"))
	c := d.Completion()
	require.NotNil(t, c)
	assert.Equal(t, 0, c.ExitCode)
	assert.Equal(t, "/home/user", c.WorkingDir)
	assert.Equal(t, "file1\nfile2\n", c.Output)
}

func TestDecoderIncrementalFeed(t *testing.T) {
	marker := NewMarker()
	d := NewDecoder(marker)

	// Marker split across reads must still be found.
	line := marker + " 1 /tmp\n"
	d.Feed([]byte("partial output\n"))
	d.Feed([]byte(line[:len(line)/2]))
	require.Nil(t, d.Completion())
	d.Feed([]byte(line[len(line)/2:]))

	c := d.Completion()
	require.NotNil(t, c)
	assert.Equal(t, 1, c.ExitCode)
	assert.Equal(t, "/tmp", c.WorkingDir)
}

func TestDecoderDirectoryWithSpaces(t *testing.T) {
	marker := NewMarker()
	d := NewDecoder(marker)

	d.Feed([]byte(marker + " 0 /home/user/My Documents/project\n"))
	c := d.Completion()
	require.NotNil(t, c)
	assert.Equal(t, "/home/user/My Documents/project", c.WorkingDir)
}

func TestDecoderNoMarkerReturnsPartial(t *testing.T) {
	d := NewDecoder(NewMarker())
	d.Feed([]byte("still running...\n"))

	assert.Nil(t, d.Completion())
	assert.Equal(t, "still running...\n", d.Partial())
}

func TestDecoderStripsCarriageReturns(t *testing.T) {
	marker := NewMarker()
	d := NewDecoder(marker)

	d.Feed([]byte("line1\r\nline2\r\n" + marker + " 0 /\n"))
	c := d.Completion()
	require.NotNil(t, c)
	assert.Equal(t, "line1\nline2\n", c.Output)
}

func TestDecoderIgnoresForeignMarker(t *testing.T) {
	// Output containing a different command's marker must not complete
	// this decoder.
	d := NewDecoder(NewMarker())
	d.Feed([]byte(NewMarker() + " 0 /tmp\n"))

	assert.Nil(t, d.Completion())
}
