package session

import (
	"fmt"
	"strings"
)

// State is a step of the participant lifecycle.
type State int

const (
	AwaitingTurn State = iota
	AwaitingUpload
	Extracting
	AwaitingFormat
	Generating
	AwaitingDownload
	PostDownloadPrompt
	Terminated
)

var stateNames = [...]string{
	AwaitingTurn:       "awaiting_turn",
	AwaitingUpload:     "awaiting_upload",
	Extracting:         "extracting",
	AwaitingFormat:     "awaiting_format",
	Generating:         "generating",
	AwaitingDownload:   "awaiting_download",
	PostDownloadPrompt: "post_download_prompt",
	Terminated:         "terminated",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Active reports whether the participant holds the turn in this state.
func (s State) Active() bool {
	return s >= AwaitingUpload && s <= PostDownloadPrompt
}

// Format is the output document kind.
type Format int

const (
	FormatNone Format = iota
	FormatWord
	FormatPDF
)

func (f Format) String() string {
	switch f {
	case FormatWord:
		return "word"
	case FormatPDF:
		return "pdf"
	default:
		return "none"
	}
}

// ParseFormat accepts "word"/"docx" and "pdf", case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "word", "docx":
		return FormatWord, nil
	case "pdf":
		return FormatPDF, nil
	default:
		return FormatNone, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}
