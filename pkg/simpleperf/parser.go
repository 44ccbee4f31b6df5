// Copyright 2024 The Parca Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package simpleperf

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

const (
	fieldSample      = "sample:"
	fieldEventCount  = "event_count:"
	fieldThreadName  = "thread_name:"
	fieldCallchain   = "callchain:"
	fieldVaddrInFile = "vaddr_in_file:"
	fieldFile        = "file:"
	fieldSymbol      = "symbol:"

	// Keeps the joined anomaly error bounded on very noisy dumps.
	maxRecordedAnomalies = 32
)

type state int

const (
	stateOutsideSample state = iota
	stateSampleHeader
	stateCallchain
)

// Parser turns the text output of "simpleperf report-sample" into samples.
// It is fed one line at a time. Records have no terminator, so a record is
// only complete once the next "sample:" line or the end of the stream is seen.
type Parser struct {
	logger log.Logger

	state  state
	count  uint64
	thread string
	// Frames of the current sample, leaf first, as they appear in the dump.
	frames  []Frame
	pending Frame

	samples   []Sample
	stats     Stats
	anomalies error
}

// NewParser creates a new Parser.
func NewParser(logger log.Logger) *Parser {
	return &Parser{
		logger: logger,
		state:  stateOutsideSample,
	}
}

// Feed processes a single line of input.
func (p *Parser) Feed(line string) {
	p.stats.Lines++
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, fieldSample) {
		p.finalize()
		p.begin()
		return
	}
	if p.state == stateOutsideSample {
		return
	}

	switch {
	case strings.HasPrefix(line, fieldEventCount):
		v := firstField(line[len(fieldEventCount):])
		count, err := strconv.ParseUint(leadingDigits(v), 10, 64)
		if err != nil {
			p.anomaly(fmt.Errorf("event count %q: %w", v, err))
			return
		}
		p.count = count
	case strings.HasPrefix(line, fieldThreadName):
		p.thread = strings.TrimSpace(line[len(fieldThreadName):])
	case strings.HasPrefix(line, fieldCallchain):
		// Fields seen so far describe the sample's own top frame.
		p.commit()
		p.state = stateCallchain
	case strings.HasPrefix(line, fieldVaddrInFile):
		// Frames have no delimiter, a field seen twice means a new frame.
		if p.pending.HasAddr {
			p.commit()
		}
		v := firstField(line[len(fieldVaddrInFile):])
		addr, err := parseHexToUint64(v)
		if err != nil {
			p.anomaly(fmt.Errorf("vaddr_in_file %q: %w", v, err))
			return
		}
		p.pending.Addr = addr
		p.pending.HasAddr = true
	case strings.HasPrefix(line, fieldFile):
		if p.pending.Image != "" {
			p.commit()
		}
		p.pending.Image = strings.TrimSpace(line[len(fieldFile):])
	case strings.HasPrefix(line, fieldSymbol):
		if p.pending.Symbol != "" {
			p.commit()
		}
		p.pending.Symbol = strings.TrimSpace(line[len(fieldSymbol):])
	}
}

// Finish finalizes the last in-progress sample and returns all samples in
// input order.
func (p *Parser) Finish() ([]Sample, Stats) {
	p.finalize()
	p.state = stateOutsideSample

	if p.anomalies != nil {
		level.Debug(p.logger).Log(
			"msg", "some lines of the sample dump could not be parsed, the affected values were treated as absent",
			"anomalies", p.stats.Anomalies,
			"err", p.anomalies,
		)
	}
	return p.samples, p.stats
}

func (p *Parser) begin() {
	p.state = stateSampleHeader
	p.count = 1
	p.thread = ""
	p.frames = nil
	p.pending = Frame{}
}

func (p *Parser) commit() {
	if p.pending.empty() {
		return
	}
	p.frames = append(p.frames, p.pending)
	p.pending = Frame{}
}

func (p *Parser) finalize() {
	if p.state == stateOutsideSample {
		return
	}
	// A sample without a callchain keeps its own top frame as the only frame.
	p.commit()

	if len(p.frames) == 0 {
		p.stats.Dropped++
		return
	}

	stack := make([]Frame, len(p.frames))
	for i, f := range p.frames {
		stack[len(p.frames)-1-i] = f
	}
	p.samples = append(p.samples, Sample{
		Count:  p.count,
		Thread: p.thread,
		Stack:  stack,
	})
	p.stats.Samples++
}

// skipLine accounts for a line that could not be read as a whole.
func (p *Parser) skipLine(err error) {
	p.stats.Lines++
	p.anomaly(err)
}

func (p *Parser) anomaly(err error) {
	p.stats.Anomalies++
	if p.stats.Anomalies <= maxRecordedAnomalies {
		p.anomalies = errors.Join(p.anomalies, fmt.Errorf("line %d: %w", p.stats.Lines, err))
	}
}

// leadingDigits returns the decimal prefix of s, "12abc" counts as 12.
func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
