// Package params manages the encode parameter file: a global normal/hardsub
// parameter set plus optional per-episode overrides.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FallbackCRF is used for flag selection when a CRF value does not parse.
const FallbackCRF = 16.0

// CRF keeps the CRF exactly as the operator entered it so the emitted
// --crf flag matches the stored value. It decodes from JSON numbers and strings.
type CRF string

// Float returns the numeric CRF, FallbackCRF when it does not parse.
func (c CRF) Float() float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(string(c)), 64)
	if err != nil {
		return FallbackCRF
	}
	return f
}

func (c CRF) numeric() bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(string(c)), 64)
	return err == nil
}

// Equal compares two CRF values numerically when both parse, textually otherwise.
func (c CRF) Equal(o CRF) bool {
	if c.numeric() && o.numeric() {
		return c.Float() == o.Float()
	}
	return c == o
}

func (c CRF) MarshalJSON() ([]byte, error) {
	if text := []byte(strings.TrimSpace(string(c))); c.numeric() && json.Valid(text) {
		return text, nil
	}
	return json.Marshal(string(c))
}

func (c *CRF) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = CRF(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("crf: %w", err)
	}
	*c = CRF(n.String())
	return nil
}

// EncodeParams is one x265 parameter set.
type EncodeParams struct {
	CRF    CRF    `json:"crf"`
	Tune   string `json:"tune"`
	Preset string `json:"preset"`
}

// Equal reports whether both sets would produce the same encoder flags.
func (p EncodeParams) Equal(o EncodeParams) bool {
	return p.CRF.Equal(o.CRF) && p.Tune == o.Tune && p.Preset == o.Preset
}

func (p EncodeParams) String() string {
	return fmt.Sprintf("crf=%s tune=%s preset=%s", p.CRF, p.Tune, p.Preset)
}

// Pair holds the normal and hardsub parameter sets.
type Pair struct {
	Normal  EncodeParams `json:"normal"`
	Hardsub EncodeParams `json:"hardsub"`
}

// Get returns the hardsub or normal set.
func (p Pair) Get(hardsub bool) EncodeParams {
	if hardsub {
		return p.Hardsub
	}
	return p.Normal
}

// With returns a copy of p with the selected set replaced.
func (p Pair) With(hardsub bool, ep EncodeParams) Pair {
	if hardsub {
		p.Hardsub = ep
	} else {
		p.Normal = ep
	}
	return p
}

// Defaults returns the built-in parameter sets.
func Defaults() Pair {
	return Pair{
		Normal:  EncodeParams{CRF: "16", Tune: "lp", Preset: "slower"},
		Hardsub: EncodeParams{CRF: "17", Tune: "lp", Preset: "slower"},
	}
}

// File is the on-disk document.
type File struct {
	Global   Pair            `json:"global"`
	Episodes map[string]Pair `json:"episodes"`
}
