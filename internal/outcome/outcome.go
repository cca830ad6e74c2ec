package outcome

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/andresmejia3/attendo/internal/types"
)

type Kind string

const (
	Recognized Kind = "recognized"
	Rejected   Kind = "rejected"
	Unknown    Kind = "unknown"
	Failed     Kind = "failed"
	Enrolled   Kind = "enrolled"
)

const (
	DefaultStatus  = "unknown"
	DefaultMessage = "No message"
)

// Outcome is what a pipeline run reports to its caller.
type Outcome struct {
	Kind                 Kind    `json:"kind"`
	Message              string  `json:"message,omitempty"`
	AttendanceTime       string  `json:"attendance_time,omitempty"`
	LightThreshold       float64 `json:"light_threshold"`
	RecognitionThreshold float64 `json:"recognition_threshold"`
	RawStatus            string  `json:"raw_status,omitempty"`
	Name                 string  `json:"name,omitempty"`
	Emotion              string  `json:"emotion,omitempty"`
	Reason               string  `json:"reason,omitempty"`
	// Legacy is set when an enrollment was judged by its message text alone.
	Legacy bool  `json:"legacy,omitempty"`
	Err    error `json:"-"`
}

// Fail builds a Failed outcome. The reason is the taxonomy message when err carries one.
func Fail(err error) Outcome {
	reason := "unexpected error"
	var pe *types.PipelineError
	if errors.As(err, &pe) {
		reason = pe.Message
	} else if err != nil {
		reason = err.Error()
	}
	return Outcome{Kind: Failed, Reason: reason, Err: err}
}

// OK reports whether the run achieved what it was asked to do.
func (o Outcome) OK() bool {
	return o.Kind == Recognized || o.Kind == Enrolled
}

// Summary renders the status text shown to the user. Thresholds are always included.
func (o Outcome) Summary() string {
	thresholds := fmt.Sprintf("Light Threshold: %s\nRecognition Threshold: %s",
		formatThreshold(o.LightThreshold), formatThreshold(o.RecognitionThreshold))

	switch o.Kind {
	case Recognized:
		return fmt.Sprintf("Message: %s\nTime Attendance: %s\n%s", o.Message, o.AttendanceTime, thresholds)
	case Rejected:
		return fmt.Sprintf("Message: %s\n%s", o.Message, thresholds)
	case Unknown:
		return fmt.Sprintf("Unknown status: %s\n%s", o.RawStatus, thresholds)
	case Enrolled:
		return o.Message
	default:
		return "Error: " + o.Reason
	}
}

// formatThreshold prints whole numbers with one decimal so 0 reads as 0.0.
func formatThreshold(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// payload is the engine reply. Every field is optional and loosely typed.
type payload struct {
	Status               text   `json:"status"`
	Success              *bool  `json:"success"`
	Message              text   `json:"message"`
	AttendanceTime       text   `json:"attendance_time"`
	Time                 text   `json:"time"`
	LightThreshold       number `json:"light_threshold"`
	RecognitionThreshold number `json:"recognition_threshold"`
	Name                 text   `json:"name"`
	Emotion              text   `json:"emotion"`
}

// text accepts a JSON string. Any other value is kept as written and null counts as absent.
type text struct {
	value string
	set   bool
}

func (t *text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = text{}
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = text{value: s, set: true}
	default:
		*t = text{value: string(data), set: true}
	}
	return nil
}

func (t text) or(def string) string {
	if !t.set {
		return def
	}
	return t.value
}

// number accepts a JSON number, a numeric string or null. Anything else, NaN and
// the infinities included, reads as 0.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	*n = 0
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if json.Unmarshal(data, &s) != nil {
			return nil
		}
		data = []byte(strings.TrimSpace(s))
	}
	if f, err := strconv.ParseFloat(string(data), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		*n = number(f)
	}
	return nil
}

func decode(raw []byte) (*payload, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, types.ErrResultParse.WithError(errors.New("payload is not a JSON object"))
	}
	var p payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, types.ErrResultParse.WithError(err)
	}
	return &p, nil
}

// Interpret turns a recognition reply into an Outcome. Unrecognized or missing status values
// become Unknown, and only a payload that is not a JSON object becomes Failed.
func Interpret(raw []byte) Outcome {
	p, err := decode(raw)
	if err != nil {
		return Fail(err)
	}

	o := Outcome{
		Message:              p.Message.or(DefaultMessage),
		AttendanceTime:       p.AttendanceTime.or(p.Time.or("")),
		LightThreshold:       float64(p.LightThreshold),
		RecognitionThreshold: float64(p.RecognitionThreshold),
		RawStatus:            p.Status.or(DefaultStatus),
		Name:                 p.Name.or(""),
		Emotion:              p.Emotion.or(""),
	}

	switch o.RawStatus {
	case "success":
		o.Kind = Recognized
	case "error":
		o.Kind = Rejected
	default:
		o.Kind = Unknown
	}
	return o
}

var legacyEnrollMarkers = []string{"registration successfully", "saved to"}

// InterpretEnrollment judges an enrollment reply. A boolean success field wins, then a
// success/error status. Engines that send neither are judged by their message text.
func InterpretEnrollment(raw []byte) Outcome {
	p, err := decode(raw)
	if err != nil {
		return Fail(err)
	}

	o := Outcome{
		Message:   p.Message.or(DefaultMessage),
		RawStatus: p.Status.or(DefaultStatus),
		Name:      p.Name.or(""),
	}

	switch {
	case p.Success != nil:
		o.Kind = enrolledIf(*p.Success)
	case o.RawStatus == "success" || o.RawStatus == "error":
		o.Kind = enrolledIf(o.RawStatus == "success")
	default:
		o.Legacy = true
		o.Kind = enrolledIf(hasLegacyMarker(o.Message))
	}
	return o
}

func enrolledIf(ok bool) Kind {
	if ok {
		return Enrolled
	}
	return Rejected
}

func hasLegacyMarker(message string) bool {
	m := strings.ToLower(message)
	for _, marker := range legacyEnrollMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}
