// Package session is the per-participant state machine. A Session is a plain
// value: every transition takes the current value and returns the next one,
// leaving the input untouched, and a rejected transition returns the input
// unchanged together with the error.
package session

import (
	"github.com/iamanmiglani/Image-to-text/v1/document"
)

const (
	ReasonExit      = "exit"
	ReasonIdle      = "idle timeout"
	ReasonLeaseLost = "lease lost"
)

// Upload is one submitted image.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Artifact describes a generated document. The bytes live in the artifact
// cache under Key.
type Artifact struct {
	Key         string
	FileName    string
	ContentType string
	Size        int
}

// Session is the lifecycle of one participant.
type Session struct {
	Participant string
	State       State
	Format      Format
	Pending     []Upload
	Document    *document.Document
	Artifact    *Artifact
	EndReason   string
}

// New returns a session waiting for its turn.
func New(participant string) Session {
	return Session{Participant: participant, State: AwaitingTurn, Document: document.New()}
}

func (s Session) require(action string, allowed ...State) error {
	for _, st := range allowed {
		if s.State == st {
			return nil
		}
	}
	return &TransitionError{Action: action, From: s.State}
}

// IdleGuarded reports whether the idle timeout applies in the current state.
func (s Session) IdleGuarded() bool {
	return s.State >= AwaitingUpload && s.State < PostDownloadPrompt
}

// Admit starts the turn.
func (s Session) Admit() (Session, error) {
	if err := s.require("admit", AwaitingTurn); err != nil {
		return s, err
	}
	s.State = AwaitingUpload
	s.EndReason = ""
	return s, nil
}

// Submit accepts an upload batch and moves to extraction.
func (s Session) Submit(files []Upload) (Session, error) {
	if err := s.require("submit", AwaitingUpload); err != nil {
		return s, err
	}
	if len(files) < 1 {
		return s, ErrNoFiles
	}
	if len(files) > MaxFiles {
		return s, ErrTooManyFiles
	}
	s.Pending = append([]Upload(nil), files...)
	s.State = Extracting
	return s, nil
}

// FinishExtraction stores the recognized document.
func (s Session) FinishExtraction(doc *document.Document) (Session, error) {
	if err := s.require("finish extraction", Extracting); err != nil {
		return s, err
	}
	if doc == nil {
		doc = document.New()
	}
	s.Document = doc
	s.Pending = nil
	s.State = AwaitingFormat
	return s, nil
}

// FailExtraction returns to the upload step so the batch can be retried.
func (s Session) FailExtraction() (Session, error) {
	if err := s.require("fail extraction", Extracting); err != nil {
		return s, err
	}
	s.Pending = nil
	s.State = AwaitingUpload
	return s, nil
}

// SelectFormat records the output format without generating.
func (s Session) SelectFormat(f Format) (Session, error) {
	if err := s.require("select format", AwaitingFormat); err != nil {
		return s, err
	}
	if f != FormatWord && f != FormatPDF {
		return s, ErrUnknownFormat
	}
	s.Format = f
	return s, nil
}

// BeginGeneration starts rendering in format f. FormatNone keeps the format
// chosen earlier with SelectFormat.
func (s Session) BeginGeneration(f Format) (Session, error) {
	if err := s.require("generate", AwaitingFormat); err != nil {
		return s, err
	}
	if f == FormatNone {
		f = s.Format
	}
	if f != FormatWord && f != FormatPDF {
		return s, ErrUnknownFormat
	}
	s.Format = f
	s.State = Generating
	return s, nil
}

// FinishGeneration records the rendered artifact.
func (s Session) FinishGeneration(a Artifact) (Session, error) {
	if err := s.require("finish generation", Generating); err != nil {
		return s, err
	}
	s.Artifact = &a
	s.State = AwaitingDownload
	return s, nil
}

// FailGeneration returns to format selection so rendering can be retried.
func (s Session) FailGeneration() (Session, error) {
	if err := s.require("fail generation", Generating); err != nil {
		return s, err
	}
	s.State = AwaitingFormat
	return s, nil
}

// Download marks the artifact as fetched.
func (s Session) Download() (Session, error) {
	if err := s.require("download", AwaitingDownload); err != nil {
		return s, err
	}
	s.State = PostDownloadPrompt
	return s, nil
}

// Reset re-enters the waiting state with a fresh, empty document.
func (s Session) Reset() (Session, error) {
	if err := s.require("reset", PostDownloadPrompt); err != nil {
		return s, err
	}
	next := New(s.Participant)
	return next, nil
}

// Exit ends the session at the participant's request.
func (s Session) Exit() (Session, error) {
	if err := s.require("exit", PostDownloadPrompt); err != nil {
		return s, err
	}
	return s.end(ReasonExit), nil
}

// Terminate force-ends an active session.
func (s Session) Terminate(reason string) (Session, error) {
	if !s.State.Active() {
		return s, &TransitionError{Action: "terminate", From: s.State}
	}
	return s.end(reason), nil
}

func (s Session) end(reason string) Session {
	s.State = Terminated
	s.EndReason = reason
	s.Pending = nil
	s.Document = nil
	s.Artifact = nil
	return s
}
