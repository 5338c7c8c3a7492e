package engine

import (
	"fmt"

	"github.com/MrWong99/voxgate/pkg/provider/quality"
)

// Reason explains why a segment was rejected.
type Reason int

const (
	// ReasonNone is the reason of accepted segments.
	ReasonNone Reason = iota
	ReasonTooNoisy
	ReasonInsufficientTotalLength
	ReasonInsufficientRelativeLength
	ReasonMultipleSpeakers
	ReasonSpoofDetected

	// ReasonCollaboratorFailure marks a segment dropped because a scoring
	// collaborator returned an error.
	ReasonCollaboratorFailure
)

var reasonNames = [...]string{
	ReasonNone:                       "none",
	ReasonTooNoisy:                   "too_noisy",
	ReasonInsufficientTotalLength:    "insufficient_total_length",
	ReasonInsufficientRelativeLength: "insufficient_relative_length",
	ReasonMultipleSpeakers:           "multiple_speakers",
	ReasonSpoofDetected:              "spoof_detected",
	ReasonCollaboratorFailure:        "collaborator_failure",
}

var reasonMessages = [...]string{
	ReasonNone:                       "",
	ReasonTooNoisy:                   "Too much background noise. Move to a quieter place and try again.",
	ReasonInsufficientTotalLength:    "Not enough speech. Please speak a little longer.",
	ReasonInsufficientRelativeLength: "Too much silence in the recording. Please speak continuously.",
	ReasonMultipleSpeakers:           "More than one voice was detected. Please record alone.",
	ReasonSpoofDetected:              "The recording could not be confirmed as live speech. Please try again.",
	ReasonCollaboratorFailure:        "The recording could not be analysed. Please try again.",
}

func (r Reason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Message returns the user-facing text for r.
func (r Reason) Message() string {
	if r >= 0 && int(r) < len(reasonMessages) {
		return reasonMessages[r]
	}
	return reasonMessages[ReasonCollaboratorFailure]
}

// reasonFor maps a quality verdict to a rejection reason. OK maps to
// [ReasonNone].
func reasonFor(d quality.Description) Reason {
	switch d {
	case quality.DescriptionOK:
		return ReasonNone
	case quality.DescriptionTooNoisy:
		return ReasonTooNoisy
	case quality.DescriptionTooSmallSpeechTotalLength:
		return ReasonInsufficientTotalLength
	case quality.DescriptionTooSmallSpeechRelativeLength:
		return ReasonInsufficientRelativeLength
	case quality.DescriptionMultipleSpeakersDetected:
		return ReasonMultipleSpeakers
	default:
		return ReasonCollaboratorFailure
	}
}

// LivenessStatus is the outcome of a liveness check.
type LivenessStatus struct {
	Probability float64
	Threshold   float64
}

// Live reports whether the probability reached the threshold.
func (s LivenessStatus) Live() bool { return s.Probability >= s.Threshold }

// Metrics are the measurements gathered while gating a segment. Fields of
// gates that did not run are zero.
type Metrics struct {
	Quality quality.Metrics

	// SNR is the result of the SNR gate in dB.
	SNR float64

	Liveness        LivenessStatus
	LivenessChecked bool

	// MultipleSpeakers is set when overlapping speakers were detected but
	// tolerated by the pipeline configuration.
	MultipleSpeakers bool
}

// Result is the verdict of [Pipeline.Evaluate].
type Result struct {
	Segment  *Segment
	Accepted bool

	// Reason is [ReasonNone] for accepted segments.
	Reason Reason

	// Err is the collaborator error behind [ReasonCollaboratorFailure].
	Err error

	Metrics Metrics
}
