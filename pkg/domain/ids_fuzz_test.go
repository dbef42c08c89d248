//go:build go1.18

package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseSubjectID checks that parsing never panics on arbitrary input and
// that accepted IDs round-trip unchanged.
func FuzzParseSubjectID(f *testing.F) {
	f.Add("")
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("00000000-0000-0000-0000-000000000000")
	f.Add("not-a-uuid")
	f.Add("'; DROP TABLE subjects;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))
	f.Add("550e8400-e29b-41d4-a716-446655440000\x00suffix")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseSubjectID(input)
		if err == nil {
			roundTrip, err2 := ParseSubjectID(id.String())
			if err2 != nil {
				t.Errorf("valid ID failed round-trip: %v", err2)
			}
			if roundTrip != id {
				t.Error("round-trip changed ID value")
			}
		}
		if !utf8.ValidString(input) && err == nil {
			t.Error("non-UTF8 input was accepted")
		}
	})
}

// FuzzParseAllIDs checks that every ID type applies the same validation.
func FuzzParseAllIDs(f *testing.F) {
	f.Add("550e8400-e29b-41d4-a716-446655440000")
	f.Add("")
	f.Add("invalid")

	f.Fuzz(func(t *testing.T, input string) {
		_, errSubject := ParseSubjectID(input)
		_, errDecision := ParseDecisionID(input)
		_, errMutation := ParseMutationID(input)

		if errSubject == nil {
			if errDecision != nil || errMutation != nil {
				t.Error("inconsistent parsing across ID types")
			}
		} else {
			if errDecision == nil || errMutation == nil {
				t.Error("inconsistent rejection across ID types")
			}
		}
	})
}
