package catalog

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Integrity error codes (E200-E299).
const (
	ErrCodeSchema        = "E201" // catalog does not match the #Catalog schema
	ErrCodeQualification = "E202" // badge needs exactly one of rank/progress
	ErrCodeThreshold     = "E203" // negative progress threshold
	ErrCodeRankRange     = "E204" // rank range outside [1, max_rank] or inverted
	ErrCodeUnknownPool   = "E205" // rank badge references a missing pool
	ErrCodeCoverageGap   = "E206" // pool ranks not fully covered
	ErrCodeOverlap       = "E207" // pool sub-ranges overlap
	ErrCodePointsOrder   = "E208" // points decrease as rarity increases
	ErrCodeEmpty         = "E209" // catalog defines no badges
	ErrCodeRarity        = "E210" // unknown rarity name
	ErrCodeStoreDrift    = "E211" // stored pools or awards disagree with the catalog
)

// IntegrityError reports a catalog that must not be used to award badges.
// The engine refuses to start when loading returns one.
type IntegrityError struct {
	Code    string
	Badge   string // badge or pool the error concerns, if any
	Message string
	Pos     token.Pos
}

func (e *IntegrityError) Error() string {
	subject := ""
	if e.Badge != "" {
		subject = e.Badge + ": "
	}
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s%s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Code, subject, e.Message)
	}
	return fmt.Sprintf("%s: %s%s", e.Code, subject, e.Message)
}

// IsIntegrityError reports whether err (or anything it wraps) is an
// IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}

// IntegrityErrors flattens a load error into its individual integrity
// errors. Errors of other kinds are skipped.
func IntegrityErrors(err error) []*IntegrityError {
	switch e := err.(type) {
	case nil:
		return nil
	case *IntegrityError:
		return []*IntegrityError{e}
	case interface{ Unwrap() []error }:
		var out []*IntegrityError
		for _, inner := range e.Unwrap() {
			out = append(out, IntegrityErrors(inner)...)
		}
		return out
	case interface{ Unwrap() error }:
		return IntegrityErrors(e.Unwrap())
	}
	return nil
}

// fromCUE converts CUE evaluation errors to integrity errors, keeping the
// source position of each.
func fromCUE(err error) error {
	if err == nil {
		return nil
	}
	cerrs := cueerrors.Errors(err)
	if len(cerrs) == 0 {
		return &IntegrityError{Code: ErrCodeSchema, Message: err.Error()}
	}
	out := make([]error, 0, len(cerrs))
	for _, ce := range cerrs {
		ie := &IntegrityError{Code: ErrCodeSchema, Message: ce.Error()}
		if positions := cueerrors.Positions(ce); len(positions) > 0 {
			ie.Pos = positions[0]
		}
		out = append(out, ie)
	}
	return errors.Join(out...)
}
