package progress

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"github.com/keagan/reelforge/pkg/util"
)

// sample is what one progress report or stats line says about the encode.
// Zero fields were not reported.
type sample struct {
	frame     int64
	fps       float64
	bitrate   string
	totalSize int64
	outTime   float64
	hasTime   bool
	speed     float64
	end       bool
}

// parser accumulates key=value lines until a progress= marker closes the
// report
type parser struct {
	cur sample
}

// line consumes one line of the -progress stream. It returns the finished
// report when the line was a progress= marker.
func (p *parser) line(line string) (sample, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return sample{}, false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		p.cur.frame, _ = strconv.ParseInt(value, 10, 64)
	case "fps":
		p.cur.fps, _ = strconv.ParseFloat(value, 64)
	case "bitrate":
		if value != "N/A" {
			p.cur.bitrate = value
		}
	case "total_size":
		p.cur.totalSize, _ = strconv.ParseInt(value, 10, 64)
	case "out_time_us", "out_time_ms":
		// both are microseconds; out_time_ms is misnamed upstream
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			p.cur.outTime = float64(us) / 1e6
			p.cur.hasTime = true
		}
	case "out_time", "time":
		if d, err := util.ParseTimestamp(value); err == nil && d >= 0 {
			p.cur.outTime = d.Seconds()
			p.cur.hasTime = true
		}
	case "speed":
		p.cur.speed = parseSpeed(value)
	case "progress":
		s := p.cur
		s.end = value == "end"
		p.cur = sample{}
		return s, true
	}
	return sample{}, false
}

var statsField = regexp.MustCompile(`(\w+)=\s*(\S+)`)

// parseStats reads a diagnostics line such as
//
//	frame=  120 fps= 30 q=28.0 size=    1024kB time=00:00:04.00 bitrate=2097.2kbits/s speed=1.5x
//
// Lines without a time= field are not stats lines.
func parseStats(line string) (sample, bool) {
	if !strings.Contains(line, "time=") {
		return sample{}, false
	}

	var p parser
	for _, m := range statsField.FindAllStringSubmatch(line, -1) {
		p.line(m[1] + "=" + m[2])
	}
	s := p.cur
	return s, s.hasTime
}

func parseSpeed(v string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(v), "x"), 64)
	if err != nil {
		return 0
	}
	return f
}

// scanLines splits on \n and on the bare \r ffmpeg uses to redraw its stats
// line
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tail keeps the last max bytes written to it
type tail struct {
	buf []byte
	max int
}

func (t *tail) add(line string) {
	if line == "" {
		return
	}
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *tail) String() string {
	return string(t.buf)
}
