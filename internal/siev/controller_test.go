package siev

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFirmware emulates the goggle controller on the far end of a pipe:
// it reads command lines and answers from a reply table.
type fakeFirmware struct {
	conn net.Conn

	mu       sync.Mutex
	commands []string
	replies  map[string]string
	silent   bool
}

func newFakeFirmware(t *testing.T) (*fakeFirmware, *Controller) {
	t.Helper()
	device, host := net.Pipe()
	f := &fakeFirmware{
		conn: device,
		replies: map[string]string{
			"PING":              "SIEV_ESP_OK_v2.1",
			"STATUS":            "STATE:IDLE LED:NONE",
			"LED_ON:LEFT":       "OK",
			"LED_ON:RIGHT":      "OK",
			"LED_OFF:LEFT":      "OK",
			"LED_OFF:RIGHT":     "OK",
			"PAUSE":             "OK",
			"RESUME":            "OK",
			"IMU_READ_LIVE_ON":  "OK",
			"IMU_READ_LIVE_OFF": "OK",
		},
	}
	go f.run()
	c := NewController(host, 200*time.Millisecond)
	t.Cleanup(func() {
		c.Close()
		device.Close()
	})
	return f, c
}

func (f *fakeFirmware) run() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		cmd := strings.TrimSpace(scanner.Text())
		if cmd == "" {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		reply, ok := f.replies[cmd]
		silent := f.silent
		f.mu.Unlock()
		if silent || !ok {
			continue
		}
		if _, err := f.conn.Write([]byte(reply + "\r\n")); err != nil {
			return
		}
	}
}

func (f *fakeFirmware) setReply(cmd, reply string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmd] = reply
}

func (f *fakeFirmware) setSilent(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.silent = v
}

func (f *fakeFirmware) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// emit pushes an unsolicited line, the way live inertial streaming does.
func (f *fakeFirmware) emit(line string) {
	f.conn.Write([]byte(line + "\r\n"))
}

func TestPingParsesVersion(t *testing.T) {
	_, c := newFakeFirmware(t)

	res := c.Ping()
	require.True(t, res.OK, res.Response)
	assert.Equal(t, "SIEV_ESP_OK_v2.1", res.Response)
	assert.Equal(t, "2.1", c.Version())
}

func TestLEDCommandsUppercaseSide(t *testing.T) {
	f, c := newFakeFirmware(t)

	require.True(t, c.LEDOn("left").OK)
	require.True(t, c.LEDOff("left").OK)
	require.True(t, c.LEDOn("right").OK)
	require.True(t, c.LEDOff("right").OK)

	assert.Equal(t, []string{
		"LED_ON:LEFT", "LED_OFF:LEFT", "LED_ON:RIGHT", "LED_OFF:RIGHT",
	}, f.received())
}

func TestStatusPassesReplyThrough(t *testing.T) {
	_, c := newFakeFirmware(t)

	res := c.Status()
	require.True(t, res.OK)
	assert.Equal(t, "STATE:IDLE LED:NONE", res.Response)
}

func TestUnexpectedReplyFails(t *testing.T) {
	f, c := newFakeFirmware(t)
	f.setReply("PAUSE", "ERR:BUSY")

	res := c.Pause()
	assert.False(t, res.OK)
	assert.Contains(t, res.Response, "unexpected reply")
	assert.Contains(t, res.Response, "ERR:BUSY")
}

func TestCommandTimeout(t *testing.T) {
	f, c := newFakeFirmware(t)
	f.setSilent(true)

	res := c.Ping()
	assert.False(t, res.OK)
	assert.Contains(t, res.Response, "timeout")
}

func TestStaleReplyDiscardedAfterTimeout(t *testing.T) {
	f, c := newFakeFirmware(t)

	f.setSilent(true)
	res := c.Pause()
	require.False(t, res.OK)

	// The firmware wakes back up; the next exchange must not be confused
	// by anything left over from the timed-out one.
	f.setSilent(false)
	res = c.Resume()
	assert.True(t, res.OK, res.Response)
}

func TestInertialStreamDemux(t *testing.T) {
	f, c := newFakeFirmware(t)
	require.True(t, c.InertialLiveOn().OK)

	want := []InertialReading{
		{Seq: 1, Ax: 0.0100, Ay: -0.0200, Az: 0.9800},
		{Seq: 2, Ax: 0.0150, Ay: -0.0180, Az: 0.9810},
	}
	for _, r := range want {
		f.emit(FormatInertialSentence(r))
	}

	for _, w := range want {
		select {
		case got := <-c.Inertial():
			assert.Equal(t, w, got)
		case <-time.After(time.Second):
			t.Fatalf("inertial reading %d never arrived", w.Seq)
		}
	}

	// Commands still work with sentences interleaved.
	assert.True(t, c.Status().OK)
}

func TestCorruptSentenceSkipped(t *testing.T) {
	f, c := newFakeFirmware(t)

	f.emit("$PSIEV,9,0.0,0.0,1.0*00") // bad checksum
	good := InertialReading{Seq: 10, Ax: 0, Ay: 0, Az: 1}
	f.emit(FormatInertialSentence(good))

	select {
	case got := <-c.Inertial():
		assert.Equal(t, good, got)
	case <-time.After(time.Second):
		t.Fatal("valid reading never arrived")
	}
	select {
	case got := <-c.Inertial():
		t.Fatalf("corrupt sentence produced a reading: %+v", got)
	default:
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	_, c := newFakeFirmware(t)
	assert.NoError(t, c.Close())
	c.Close()

	res := c.Ping()
	assert.False(t, res.OK)
}
