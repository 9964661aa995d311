// Package event contains the flight event types and the bus that carries
// them from producers (phase detection, pyro channels) to consumers.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind identifies an event. Each kind is a distinct bit so subscribers can
// filter on a union of kinds with a single mask.
type Kind uint32

const (
	KindArm              Kind = 1 << 0
	KindDisarm           Kind = 1 << 1
	KindLiftoff          Kind = 1 << 2
	KindBurnout          Kind = 1 << 3
	KindAirstart         Kind = 1 << 4
	KindPyroFire         Kind = 1 << 5
	KindContinuityLoss   Kind = 1 << 6
	KindApogee           Kind = 1 << 7
	KindLawnDart         Kind = 1 << 8
	KindLanding          Kind = 1 << 9
	KindLostRocket       Kind = 1 << 10
	KindLowBattery       Kind = 1 << 11
	KindContinuityGained Kind = 1 << 12
	KindStart            Kind = 1 << 13

	// MaskAll matches every kind.
	MaskAll Kind = 0xFFFFFFFF
)

var kindNames = []struct {
	k    Kind
	name string
}{
	{KindArm, "ARM"},
	{KindDisarm, "DISARM"},
	{KindLiftoff, "LIFTOFF"},
	{KindBurnout, "BURNOUT"},
	{KindAirstart, "AIRSTART"},
	{KindPyroFire, "PYRO_FIRE"},
	{KindContinuityLoss, "CONTINUITY_LOSS"},
	{KindApogee, "APOGEE"},
	{KindLawnDart, "LAWN_DART"},
	{KindLanding, "LANDING"},
	{KindLostRocket, "LOST_ROCKET"},
	{KindLowBattery, "LOW_BATTERY"},
	{KindContinuityGained, "CONTINUITY_GAINED"},
	{KindStart, "START"},
}

// String returns the wire name of a single kind, or a "|"-joined list for a
// mask.
func (k Kind) String() string {
	if k == MaskAll {
		return "ALL"
	}
	var parts []string
	for _, kn := range kindNames {
		if k&kn.k != 0 {
			parts = append(parts, kn.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("KIND(%#x)", uint32(k))
	}
	return strings.Join(parts, "|")
}

// Matches reports whether the mask selects kind k.
func (k Kind) Matches(mask Kind) bool {
	return k&mask != 0
}

// MaxTextLen is the capacity of a text payload, in bytes.
const MaxTextLen = 12

// ErrTextTooLong is returned when a text payload exceeds MaxTextLen.
var ErrTextTooLong = errors.New("event: text payload exceeds 12 bytes")

type argsTag uint8

const (
	argsNone argsTag = iota
	argsInts
	argsText
)

// Args is the event payload: nothing, up to three int32 values, or a short
// text. The zero value carries nothing.
type Args struct {
	tag  argsTag
	n    uint8
	ints [MaxInts]int32
	text string
}

// MaxInts is the capacity of an integer payload.
const MaxInts = 3

// Ints builds an integer payload of up to MaxInts values. Values past
// MaxInts are dropped.
func Ints(v ...int32) Args {
	if len(v) > MaxInts {
		v = v[:MaxInts]
	}
	a := Args{tag: argsInts, n: uint8(len(v))}
	copy(a.ints[:], v)
	return a
}

// Text builds a text payload of at most MaxTextLen bytes.
func Text(s string) (Args, error) {
	if len(s) > MaxTextLen {
		return Args{}, ErrTextTooLong
	}
	return Args{tag: argsText, text: s}, nil
}

// IsInts reports whether the payload holds integers.
func (a Args) IsInts() bool { return a.tag == argsInts }

// IsText reports whether the payload holds text.
func (a Args) IsText() bool { return a.tag == argsText }

// Int returns the i-th integer argument, or 0 when absent.
func (a Args) Int(i int) int32 {
	if a.tag != argsInts || i < 0 || i >= int(a.n) {
		return 0
	}
	return a.ints[i]
}

// IntSlice returns the integer arguments, nil for non-integer payloads.
func (a Args) IntSlice() []int32 {
	if a.tag != argsInts {
		return nil
	}
	out := make([]int32, a.n)
	copy(out, a.ints[:a.n])
	return out
}

// TextValue returns the text argument and whether the payload is text.
func (a Args) TextValue() (string, bool) {
	return a.text, a.tag == argsText
}

// Event is a single occurrence published on the bus. It is a value type.
type Event struct {
	Timestamp time.Time
	Kind      Kind
	Args      Args
}

// New returns an event of the given kind with integer args.
func New(kind Kind, ints ...int32) Event {
	e := Event{Kind: kind}
	if len(ints) > 0 {
		e.Args = Ints(ints...)
	}
	return e
}

func (e Event) String() string {
	switch {
	case e.Args.IsInts():
		return fmt.Sprintf("%s%v", e.Kind, e.Args.IntSlice())
	case e.Args.IsText():
		return fmt.Sprintf("%s(%q)", e.Kind, e.Args.text)
	}
	return e.Kind.String()
}
