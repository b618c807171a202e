package attestation

import "fmt"

// MaxValue is the largest value the proof circuit accepts (u16 inputs).
const MaxValue = 65535

// Request carries the three circuit inputs. Subject is the private value;
// it is passed to the backend but never logged or returned.
type Request struct {
	Subject   int
	Reference int
	Threshold int
}

// Validate rejects values outside the circuit's input domain.
func (r Request) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"subject", r.Subject},
		{"reference", r.Reference},
		{"threshold", r.Threshold},
	} {
		if f.value < 0 || f.value > MaxValue {
			return fmt.Errorf("%s value %d outside 0..%d", f.name, f.value, MaxValue)
		}
	}
	return nil
}

// Result is the typed outcome of one successful backend run. It is never
// persisted.
type Result struct {
	Verdict   bool
	Reference int
	RawOutput string
}
