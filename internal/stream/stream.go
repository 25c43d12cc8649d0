// Package stream defines the incremental ask payloads: zero or more deltas,
// then blocks, then exactly one done or error event.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrStreamClosed = errors.New("stream: terminal event already sent")

type EventType string

const (
	EventDelta EventType = "delta"
	EventBlock EventType = "block"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

type BlockType string

const (
	BlockSQL   BlockType = "sql"
	BlockData  BlockType = "data"
	BlockChart BlockType = "chart"
	BlockError BlockType = "error"
)

type Event struct {
	Type EventType
	Data any
}

func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

type Delta struct {
	Text string `json:"text"`
}

type Block struct {
	ID   string    `json:"id"`
	Type BlockType `json:"type"`

	SQL     string   `json:"sql,omitempty"`
	Tables  []string `json:"tables,omitempty"`
	Dialect string   `json:"dialect,omitempty"`

	Columns []string `json:"columns,omitempty"`
	Rows    [][]any  `json:"rows,omitempty"`
	Note    string   `json:"note,omitempty"`

	ChartType     string           `json:"chartType,omitempty"`
	EChartsOption json.RawMessage  `json:"echartsOption,omitempty"`
	Config        map[string]any   `json:"config,omitempty"`
	ChartData     []map[string]any `json:"data,omitempty"`

	Message string `json:"message,omitempty"`
}

type Done struct {
	ElapsedMs int64 `json:"elapsedMs"`
}

type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Emitter forwards events to sink and refuses anything after the first
// terminal event. It is safe for concurrent use.
type Emitter struct {
	mu      sync.Mutex
	sink    func(Event)
	started time.Time
	now     func() time.Time
	newID   func() string
	closed  bool
}

type Option func(*Emitter)

func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

func WithIDs(newID func() string) Option {
	return func(e *Emitter) {
		if newID != nil {
			e.newID = newID
		}
	}
}

func NewEmitter(sink func(Event), opts ...Option) *Emitter {
	e := &Emitter{sink: sink, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(e)
	}
	e.started = e.now()
	return e
}

func (e *Emitter) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Emitter) Delta(text string) error {
	if text == "" {
		return nil
	}
	return e.send(Event{Type: EventDelta, Data: Delta{Text: text}})
}

func (e *Emitter) SQL(sql string, tables []string, dialect string) (Block, error) {
	return e.block(Block{Type: BlockSQL, SQL: sql, Tables: tables, Dialect: dialect})
}

func (e *Emitter) Data(columns []string, rows [][]any, note string) (Block, error) {
	return e.block(Block{Type: BlockData, Columns: columns, Rows: rows, Note: note})
}

func (e *Emitter) Chart(chartType string, option json.RawMessage, config map[string]any, data []map[string]any) (Block, error) {
	return e.block(Block{Type: BlockChart, ChartType: chartType, EChartsOption: option, Config: config, ChartData: data})
}

func (e *Emitter) ErrorBlock(message string) (Block, error) {
	return e.block(Block{Type: BlockError, Message: message})
}

func (e *Emitter) Done() error {
	e.mu.Lock()
	elapsed := e.now().Sub(e.started)
	e.mu.Unlock()
	return e.send(Event{Type: EventDone, Data: Done{ElapsedMs: elapsed.Milliseconds()}})
}

func (e *Emitter) Fail(code, message string, details any) error {
	return e.send(Event{Type: EventError, Data: Failure{Code: code, Message: message, Details: details}})
}

func (e *Emitter) block(b Block) (Block, error) {
	e.mu.Lock()
	b.ID = e.newID()
	e.mu.Unlock()
	if err := e.send(Event{Type: EventBlock, Data: b}); err != nil {
		return Block{}, err
	}
	return b, nil
}

func (e *Emitter) send(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	if ev.Terminal() {
		e.closed = true
	}
	if e.sink != nil {
		e.sink(ev)
	}
	return nil
}

// WriteSSE frames ev as a server-sent event.
func WriteSSE(w io.Writer, ev Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	return nil
}
