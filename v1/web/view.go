package web

import (
	"github.com/iamanmiglani/Image-to-text/v1/session"
	"github.com/iamanmiglani/Image-to-text/v1/turn"
)

type pageView struct {
	Name  string   `json:"name"`
	Lines []string `json:"lines"`
}

type artifactView struct {
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type sessionView struct {
	Participant string        `json:"participant"`
	State       string        `json:"state"`
	Busy        bool          `json:"busy"`
	Format      string        `json:"format,omitempty"`
	Pages       []pageView    `json:"pages,omitempty"`
	Artifact    *artifactView `json:"artifact,omitempty"`
	EndReason   string        `json:"end_reason,omitempty"`
}

func viewOf(s session.Session) sessionView {
	v := sessionView{
		Participant: s.Participant,
		State:       s.State.String(),
		Busy:        s.State == session.Extracting || s.State == session.Generating,
		EndReason:   s.EndReason,
	}
	if s.Format != session.FormatNone {
		v.Format = s.Format.String()
	}
	for _, p := range s.Document.Pages() {
		v.Pages = append(v.Pages, pageView{Name: p.Name, Lines: p.Lines})
	}
	if s.Artifact != nil {
		v.Artifact = &artifactView{
			FileName:    s.Artifact.FileName,
			ContentType: s.Artifact.ContentType,
			Size:        s.Artifact.Size,
		}
	}
	return v
}

type pollView struct {
	Decision string      `json:"decision"`
	Position *int        `json:"position,omitempty"`
	Session  sessionView `json:"session"`
}

func pollViewOf(s session.Session, st turn.Status) pollView {
	v := pollView{Decision: st.Decision.String(), Session: viewOf(s)}
	if st.Decision == turn.Wait {
		pos := st.Position
		v.Position = &pos
	}
	return v
}
