package maskop

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var logger = logging.Logger("fogmask/maskop")

// ErrLegacyFormat means the payload predates the integer shape encoding and
// has to go through Normalize first.
var ErrLegacyFormat = errors.New("legacy operation log format")

// Encode serializes the log as {"events":[[op...]...],"pointer":n}.
func Encode(l *OperationLog) ([]byte, error) {
	if l == nil {
		l = NewLog()
	}
	out := *l
	if out.Events == nil {
		out.Events = []Batch{}
	}
	return json.Marshal(out)
}

// Decode parses a log in the current format.
func Decode(data []byte) (*OperationLog, error) {
	var l OperationLog
	if err := json.Unmarshal(data, &l); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, fmt.Errorf("%w: %v", ErrLegacyFormat, err)
		}
		return nil, fmt.Errorf("failed to decode operation log: %w", err)
	}
	if l.Events == nil {
		l.Events = []Batch{}
	}
	return &l, nil
}

// Digest returns a stable fingerprint of an encoded log.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// UnknownShape stands in for a legacy shape name this build does not
// recognize. It is never drawn.
const UnknownShape Shape = -1

var legacyShapes = map[string]Shape{
	"ellipse": Ellipse,
	"box":     Box,
	"shape":   Polygon,
	"polygon": Polygon,
}

// Normalize decodes a log that may use the legacy encoding: string shapes,
// fractional coordinates, string fills and redundant visible/alpha fields.
// changed reports whether anything had to be rewritten.
func Normalize(data []byte) (l *OperationLog, changed bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw struct {
		Events  [][]map[string]any `json:"events"`
		Pointer json.Number        `json:"pointer"`
	}
	if err := dec.Decode(&raw); err != nil {
		return nil, false, fmt.Errorf("failed to decode legacy log: %w", err)
	}

	l = &OperationLog{Events: make([]Batch, 0, len(raw.Events))}
	if raw.Pointer != "" {
		p, c, err := roundNumber(raw.Pointer)
		if err != nil {
			return nil, false, fmt.Errorf("pointer: %w", err)
		}
		l.Pointer = p
		changed = changed || c
	}

	for i, event := range raw.Events {
		batch := make(Batch, 0, len(event))
		for j, fields := range event {
			op, c, err := normalizeOperation(fields)
			if err != nil {
				return nil, false, fmt.Errorf("event %d op %d: %w", i, j, err)
			}
			changed = changed || c
			batch = append(batch, op)
		}
		l.Events = append(l.Events, batch)
	}
	return l, changed, nil
}

func normalizeOperation(fields map[string]any) (Operation, bool, error) {
	var op Operation
	changed := false

	for _, k := range []string{"visible", "alpha"} {
		if _, ok := fields[k]; ok {
			changed = true
		}
	}

	switch v := fields["shape"].(type) {
	case string:
		s, ok := legacyShapes[strings.ToLower(v)]
		if !ok {
			logger.Warnf("unknown legacy shape %q, operation will not be drawn", v)
			s = UnknownShape
		}
		op.Shape = s
		changed = true
	case json.Number:
		n, c, err := roundNumber(v)
		if err != nil {
			return op, false, fmt.Errorf("shape: %w", err)
		}
		op.Shape = Shape(n)
		changed = changed || c
	case nil:
		return op, false, errors.New("missing shape")
	default:
		return op, false, fmt.Errorf("unexpected shape type %T", v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"x", &op.X}, {"y", &op.Y}, {"width", &op.Width}, {"height", &op.Height},
	}
	for _, f := range ints {
		v, ok := fields[f.key]
		if !ok || v == nil {
			continue
		}
		num, ok := v.(json.Number)
		if !ok {
			return op, false, fmt.Errorf("%s: expected number, got %T", f.key, v)
		}
		n, c, err := roundNumber(num)
		if err != nil {
			return op, false, fmt.Errorf("%s: %w", f.key, err)
		}
		*f.dst = n
		changed = changed || c
	}

	if v, ok := fields["vertices"].([]any); ok {
		op.Vertices = make([]float64, 0, len(v))
		for _, item := range v {
			num, ok := item.(json.Number)
			if !ok {
				return op, false, fmt.Errorf("vertices: expected number, got %T", item)
			}
			f, err := num.Float64()
			if err != nil {
				return op, false, fmt.Errorf("vertices: %w", err)
			}
			op.Vertices = append(op.Vertices, f)
		}
	}

	fill, c, err := parseFill(fields["fill"])
	if err != nil {
		return op, false, err
	}
	op.Fill = fill
	changed = changed || c

	return op, changed, nil
}

func parseFill(v any) (Fill, bool, error) {
	switch f := v.(type) {
	case nil:
		return FillRevealed, false, nil
	case json.Number:
		n, c, err := roundNumber(f)
		if err != nil {
			return 0, false, fmt.Errorf("fill: %w", err)
		}
		return Fill(uint32(n) & 0xFFFFFF), c, nil
	case string:
		fill, err := ParseFill(f)
		if err != nil {
			return 0, false, err
		}
		return fill, true, nil
	default:
		return 0, false, fmt.Errorf("fill: unexpected type %T", v)
	}
}

// ParseFill accepts "0xRRGGBB", "#RRGGBB" or a decimal string.
func ParseFill(s string) (Fill, error) {
	s = strings.TrimSpace(s)
	base := 10
	switch {
	case strings.HasPrefix(s, "0x"), strings.HasPrefix(s, "0X"):
		s, base = s[2:], 16
	case strings.HasPrefix(s, "#"):
		s, base = s[1:], 16
	}
	n, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid fill %q: %w", s, err)
	}
	return Fill(n & 0xFFFFFF), nil
}

func roundNumber(n json.Number) (int, bool, error) {
	if i, err := n.Int64(); err == nil {
		return int(i), false, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, false, err
	}
	r := math.Round(f)
	return int(r), r != f, nil
}
