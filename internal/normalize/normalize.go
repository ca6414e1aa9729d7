// Package normalize turns loosely structured webhook payloads into an
// ordered list of intents for the upsert engine. It never writes to the
// store; the only collaborator it reads from is an optional
// ContactResolver.
package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/LeventeLantos/webhook-inbox/internal/model"
)

var ErrInvalidJSON = errors.New("payload is not valid JSON")

// ContactResolver looks up the stored display name for a conversation.
type ContactResolver interface {
	ContactName(ctx context.Context, conversationID string) (string, bool)
}

type Result struct {
	Shape   Shape
	Intents []model.Intent
	// Dropped counts elements that were recognized but unusable, such as
	// statuses with no id or an unknown state.
	Dropped int
}

// Empty reports a payload that produced nothing to apply.
func (r Result) Empty() bool {
	return len(r.Intents) == 0
}

type Normalizer struct {
	contacts      ContactResolver
	businessPhone string
	now           func() time.Time
	newID         func(time.Time) string
}

type Option func(*Normalizer)

func WithContactResolver(r ContactResolver) Option {
	return func(n *Normalizer) { n.contacts = r }
}

// WithBusinessPhone sets the display phone used to classify direction
// when a payload carries no metadata block.
func WithBusinessPhone(phone string) Option {
	return func(n *Normalizer) { n.businessPhone = phone }
}

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func WithIDGenerator(gen func(time.Time) string) Option {
	return func(n *Normalizer) { n.newID = gen }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		now:   time.Now,
		newID: model.NewSyntheticID,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize classifies raw and extracts its intents. Contact intents come
// first, then message intents, then status intents, each class keeping
// the payload's array order. A payload matching no shape yields an empty
// result with ShapeUnknown and a nil error.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte, source string) (Result, error) {
	if !gjson.ValidBytes(raw) {
		return Result{Shape: ShapeUnknown}, ErrInvalidJSON
	}

	shape, node := detect(gjson.ParseBytes(raw))
	now := n.now().UTC()

	x := &extraction{
		n:       n,
		ctx:     ctx,
		payload: raw,
		source:  source,
		now:     now,
	}

	switch shape {
	case ShapeEnvelope:
		x.envelope(node)
	case ShapeDirect:
		x.value(node, x.knownContacts([]gjson.Result{node}))
	case ShapeGeneric:
		if !x.generic(node) {
			shape = ShapeUnknown
		}
	}

	return Result{Shape: shape, Intents: x.intents(), Dropped: x.dropped}, nil
}

// extraction holds the per-call working state of one Normalize call. It
// never outlives the call.
type extraction struct {
	n       *Normalizer
	ctx     context.Context
	payload []byte
	source  string
	now     time.Time

	contacts []model.Intent
	messages []model.Intent
	statuses []model.Intent
	seen     map[string]bool
	dropped  int
}

func (x *extraction) intents() []model.Intent {
	out := make([]model.Intent, 0, len(x.contacts)+len(x.messages)+len(x.statuses))
	out = append(out, x.contacts...)
	out = append(out, x.messages...)
	out = append(out, x.statuses...)
	return out
}

func (x *extraction) originBag(item string) json.RawMessage {
	doc := []byte(`{}`)
	set := func(path string, v any) {
		if out, err := sjson.SetBytes(doc, path, v); err == nil {
			doc = out
		}
	}
	setRaw := func(path string, raw []byte) {
		if out, err := sjson.SetRawBytes(doc, path, raw); err == nil {
			doc = out
		}
	}

	set("source", x.source)
	set("processedAt", x.now.Format(time.RFC3339Nano))
	setRaw("payload", x.payload)
	if item != "" {
		setRaw("item", []byte(item))
	}
	return doc
}

// parseTime accepts RFC3339 strings and numeric epochs. Numeric values
// below 1e11 are read as seconds, anything larger as milliseconds.
func parseTime(r gjson.Result) (time.Time, bool) {
	var v float64
	switch r.Type {
	case gjson.Number:
		v = r.Num
	case gjson.String:
		s := r.Str
		if s == "" {
			return time.Time{}, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			t, perr := time.Parse(time.RFC3339Nano, s)
			if perr != nil {
				return time.Time{}, false
			}
			return t.UTC(), true
		}
		v = f
	default:
		return time.Time{}, false
	}

	if v <= 0 {
		return time.Time{}, false
	}
	if v < 1e11 {
		sec, frac := math.Modf(v)
		return time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC(), true
	}
	return time.UnixMilli(int64(v)).UTC(), true
}

// firstString returns the first non-empty string among paths.
func firstString(node gjson.Result, paths ...string) string {
	for _, p := range paths {
		if s := node.Get(p).String(); s != "" {
			return s
		}
	}
	return ""
}
