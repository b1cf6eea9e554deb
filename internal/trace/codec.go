package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// wireEvent is the on-disk shape of an Event. Short keys keep trace
// files compact; the binary stream is a plain concatenation of msgpack
// maps, one per event.
type wireEvent struct {
	TimeUnixNs int64             `msgpack:"t"`
	Seq        uint64            `msgpack:"s"`
	Kind       uint8             `msgpack:"k"`
	Scope      uint8             `msgpack:"c"`
	SpanID     uint64            `msgpack:"i"`
	ParentID   uint64            `msgpack:"p,omitempty"`
	GID        uint64            `msgpack:"g,omitempty"`
	Name       string            `msgpack:"n"`
	Detail     string            `msgpack:"d,omitempty"`
	Extra      map[string]string `msgpack:"x,omitempty"`
}

func toWire(ev *Event) wireEvent {
	return wireEvent{
		TimeUnixNs: ev.Time.UnixNano(),
		Seq:        ev.Seq,
		Kind:       uint8(ev.Kind),
		Scope:      uint8(ev.Scope),
		SpanID:     ev.SpanID,
		ParentID:   ev.ParentID,
		GID:        ev.GID,
		Name:       ev.Name,
		Detail:     ev.Detail,
		Extra:      ev.Extra,
	}
}

func fromWire(w wireEvent) Event {
	return Event{
		Time:     time.Unix(0, w.TimeUnixNs),
		Seq:      w.Seq,
		Kind:     Kind(w.Kind),
		Scope:    Scope(w.Scope),
		SpanID:   w.SpanID,
		ParentID: w.ParentID,
		GID:      w.GID,
		Name:     w.Name,
		Detail:   w.Detail,
		Extra:    w.Extra,
	}
}

// formatBinary encodes an event as one msgpack map.
func formatBinary(ev *Event) []byte {
	data, err := msgpack.Marshal(toWire(ev))
	if err != nil {
		// Encoding a flat struct of scalars and strings cannot fail;
		// losing one trace event is still better than stopping the run.
		return nil
	}
	return data
}

// Decoder reads a binary trace stream back into events.
type Decoder struct {
	dec *msgpack.Decoder
}

// NewDecoder wraps r, which must carry a FormatBinary stream.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: msgpack.NewDecoder(r)}
}

// Next returns the next event, or io.EOF at end of stream.
func (d *Decoder) Next() (Event, error) {
	var w wireEvent
	if err := d.dec.Decode(&w); err != nil {
		if err == io.EOF {
			return Event{}, io.EOF
		}
		return Event{}, fmt.Errorf("failed to decode trace event: %w", err)
	}
	return fromWire(w), nil
}

// ReadAll decodes every event remaining in the stream.
func (d *Decoder) ReadAll() ([]Event, error) {
	var events []Event
	for {
		ev, err := d.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}
