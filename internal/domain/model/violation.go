package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind enumerates the violation taxonomy.
type Kind string

const (
	KindNoFace          Kind = "no_face"
	KindMultipleFaces   Kind = "multiple_faces"
	KindLookingAway     Kind = "looking_away"
	KindHeadTurnedAway  Kind = "head_turned_away"
	KindDifferentPerson Kind = "different_person"
	KindTabSwitch       Kind = "tab_switch"
	KindWindowBlur      Kind = "window_blur"
	KindCopyAttempt     Kind = "copy_attempt"
	KindPasteAttempt    Kind = "paste_attempt"
	KindDevToolsAttempt Kind = "devtools_attempt"
)

// Severity grades a violation. Determined by Kind only.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var kindSeverity = map[Kind]Severity{
	KindNoFace:          SeverityMedium,
	KindMultipleFaces:   SeverityHigh,
	KindLookingAway:     SeverityLow,
	KindHeadTurnedAway:  SeverityMedium,
	KindDifferentPerson: SeverityCritical,
	KindTabSwitch:       SeverityMedium,
	KindWindowBlur:      SeverityMedium,
	KindCopyAttempt:     SeverityLow,
	KindPasteAttempt:    SeverityLow,
	KindDevToolsAttempt: SeverityLow,
}

var severityPenalty = map[Severity]float64{
	SeverityLow:      2,
	SeverityMedium:   5,
	SeverityHigh:     10,
	SeverityCritical: 20,
}

// clientEventAliases maps browser event names onto kinds.
var clientEventAliases = map[string]Kind{
	"tab_switch":       KindTabSwitch,
	"switch":           KindTabSwitch,
	"window_blur":      KindWindowBlur,
	"blur":             KindWindowBlur,
	"copy":             KindCopyAttempt,
	"copy_attempt":     KindCopyAttempt,
	"paste":            KindPasteAttempt,
	"paste_attempt":    KindPasteAttempt,
	"devtools":         KindDevToolsAttempt,
	"devtools_attempt": KindDevToolsAttempt,
}

// Kinds lists every violation kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		KindNoFace, KindMultipleFaces, KindLookingAway, KindHeadTurnedAway, KindDifferentPerson,
		KindTabSwitch, KindWindowBlur, KindCopyAttempt, KindPasteAttempt, KindDevToolsAttempt,
	}
}

// Severity returns the static severity of k.
func (k Kind) Severity() Severity {
	return kindSeverity[k]
}

// ClientReported reports whether k originates from the browser shim.
func (k Kind) ClientReported() bool {
	switch k {
	case KindTabSwitch, KindWindowBlur, KindCopyAttempt, KindPasteAttempt, KindDevToolsAttempt:
		return true
	default:
		return false
	}
}

// ParseClientEvent maps an event_type onto its violation kind.
func ParseClientEvent(s string) (Kind, error) {
	k, ok := clientEventAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: event type %q", ErrUnknownValue, s)
	}
	return k, nil
}

// Penalty is the integrity score deduction for one violation of severity s.
func (s Severity) Penalty() float64 {
	return severityPenalty[s]
}

// Violation is an immutable record of one detected infraction.
type Violation struct {
	Sequence    int       `json:"sequence" cbor:"sequence"`
	Kind        Kind      `json:"kind" cbor:"kind"`
	Severity    Severity  `json:"severity" cbor:"severity"`
	Timestamp   time.Time `json:"timestamp" cbor:"timestamp"`
	FrameNumber int       `json:"frame_number,omitempty" cbor:"frame_number,omitempty"`
	Confidence  float64   `json:"confidence,omitempty" cbor:"confidence,omitempty"`
	Detail      string    `json:"detail" cbor:"detail"`
}

// NewViolation builds a violation of kind k with its static severity.
func NewViolation(k Kind, at time.Time, detail string) Violation {
	return Violation{
		Kind:      k,
		Severity:  k.Severity(),
		Timestamp: at.UTC(),
		Detail:    detail,
	}
}
