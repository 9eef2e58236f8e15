package transcribe

import (
	"fmt"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

// UnknownSpeaker marks words the backend did not diarize.
const UnknownSpeaker = -1

type Word struct {
	Speaker        *int
	PunctuatedWord string
	Start          float64
	End            float64
}

// Segment is a run of consecutive words from one speaker. Start and end are
// offsets in seconds from the beginning of the recording's stream.
type Segment struct {
	Speaker   int       `json:"speaker"`
	Text      string    `json:"text"`
	StartTime float64   `json:"start_time"`
	EndTime   float64   `json:"end_time"`
	Timestamp time.Time `json:"timestamp"`
}

// WordsFromResponse extracts the first alternative of a live result.
func WordsFromResponse(mr *api.MessageResponse) (string, []Word) {
	if mr == nil || len(mr.Channel.Alternatives) == 0 {
		return "", nil
	}
	alt := mr.Channel.Alternatives[0]

	words := make([]Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		text := w.PunctuatedWord
		if text == "" {
			text = w.Word
		}
		words = append(words, Word{
			Speaker:        w.Speaker,
			PunctuatedWord: text,
			Start:          w.Start,
			End:            w.End,
		})
	}
	return strings.TrimSpace(alt.Transcript), words
}

// GroupWordsBySpeaker splits words into segments at every speaker change and
// stamps each segment with at.
func GroupWordsBySpeaker(words []Word, at time.Time) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segments []Segment
	var current Segment
	for i, w := range words {
		speaker := speakerOf(w)
		if i > 0 && speaker == current.Speaker {
			current.Text += " " + w.PunctuatedWord
			current.EndTime = w.End
			continue
		}
		if i > 0 {
			segments = append(segments, current)
		}
		current = Segment{
			Speaker:   speaker,
			Text:      w.PunctuatedWord,
			StartTime: w.Start,
			EndTime:   w.End,
			Timestamp: at,
		}
	}

	return append(segments, current)
}

// JoinText concatenates segment texts into one transcript, one line per segment.
func JoinText(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

func (s Segment) FormatMarkdown() string {
	ts := s.Timestamp.Format("15:04:05")
	if s.Speaker == UnknownSpeaker {
		return fmt.Sprintf("**[%s]** %s", ts, strings.TrimSpace(s.Text))
	}
	return fmt.Sprintf("**[%s] Speaker %d:** %s", ts, s.Speaker, strings.TrimSpace(s.Text))
}

func speakerOf(w Word) int {
	if w.Speaker == nil {
		return UnknownSpeaker
	}
	return *w.Speaker
}
