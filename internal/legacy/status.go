// Package legacy translates item statuses to and from the numeric status
// codes of the older checker integration.
package legacy

import (
	"github.com/rotisserie/eris"

	"github.com/HoangAnhDev1805/checkpool/internal/model"
)

// Code is a numeric legacy status.
type Code int

const (
	CodeNotRun         Code = 0
	CodeRunning        Code = 1
	CodeSuccess        Code = 2
	CodeFailure        Code = 3
	CodeUnknown        Code = 4
	CodeSuccessVariant Code = 5
)

// ErrUnmapped is returned for codes or statuses with no counterpart.
var ErrUnmapped = eris.New("legacy: no mapping")

var toCode = map[model.ItemStatus]Code{
	model.ItemStatusPending:         CodeNotRun,
	model.ItemStatusLeased:          CodeRunning,
	model.ItemStatusResolvedSuccess: CodeSuccess,
	model.ItemStatusResolvedFailure: CodeFailure,
	model.ItemStatusResolvedUnknown: CodeUnknown,
	// The legacy vocabulary has no error state.
	model.ItemStatusResolvedError: CodeUnknown,
}

var toStatus = map[Code]model.ItemStatus{
	CodeNotRun:         model.ItemStatusPending,
	CodeRunning:        model.ItemStatusLeased,
	CodeSuccess:        model.ItemStatusResolvedSuccess,
	CodeFailure:        model.ItemStatusResolvedFailure,
	CodeUnknown:        model.ItemStatusResolvedUnknown,
	CodeSuccessVariant: model.ItemStatusResolvedSuccess,
}

// FromStatus returns the legacy code for an item status.
func FromStatus(s model.ItemStatus) (Code, error) {
	c, ok := toCode[s]
	if !ok {
		return 0, eris.Wrapf(ErrUnmapped, "legacy: status %q", s)
	}
	return c, nil
}

// ToStatus returns the item status a legacy code stands for.
func ToStatus(c Code) (model.ItemStatus, error) {
	s, ok := toStatus[c]
	if !ok {
		return "", eris.Wrapf(ErrUnmapped, "legacy: code %d", int(c))
	}
	return s, nil
}

// ToOutcome converts a terminal legacy code into a report outcome. Codes
// for not-run and running are not outcomes.
func ToOutcome(c Code) (model.Outcome, error) {
	switch c {
	case CodeSuccess, CodeSuccessVariant:
		return model.OutcomeSuccess, nil
	case CodeFailure:
		return model.OutcomeFailure, nil
	case CodeUnknown:
		return model.OutcomeUnknown, nil
	default:
		return 0, eris.Wrapf(ErrUnmapped, "legacy: code %d is not an outcome", int(c))
	}
}
