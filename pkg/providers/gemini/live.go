package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// LiveOptions select the model and modalities for one live session.
type LiveOptions struct {
	Model        string
	Instructions string

	// AudioOutput selects AUDIO responses with output transcription; false
	// selects TEXT responses.
	AudioOutput bool
	Voice       string
	Language    string
}

// ToolCall is a function call the model issued mid-session.
type ToolCall struct {
	ID    string
	Name  string
	Query string
}

// LiveEvent is one message from the model, flattened for the session engine.
type LiveEvent struct {
	SetupComplete bool

	// Text is a model text delta (TEXT modality sessions).
	Text string
	// Audio is a model audio chunk (AUDIO modality sessions).
	Audio []byte

	// InputTranscript and OutputTranscript are speech transcriptions.
	InputTranscript  string
	OutputTranscript string

	ToolCalls    []ToolCall
	TurnComplete bool
	Interrupted  bool
}

// LiveConn is an open live session. Receive blocks until the next event;
// it returns an error when the upstream connection closes.
type LiveConn interface {
	SendText(text string) error
	// SendTurn sends text plus an optional inline image as one complete
	// user turn.
	SendTurn(text string, frame []byte, mimeType string) error
	SendMedia(data []byte, mimeType string) error
	SendToolResponse(id, name string, response map[string]any) error
	Receive() (*LiveEvent, error)
	Close() error
}

// ConnectLive opens a Gemini Live session.
func (c *Client) ConnectLive(ctx context.Context, opts LiveOptions) (LiveConn, error) {
	cfg := &genai.LiveConnectConfig{
		Temperature:     genai.Ptr(float32(c.cfg.Temperature)),
		TopP:            genai.Ptr(float32(c.cfg.TopP)),
		TopK:            genai.Ptr(float32(c.cfg.TopK)),
		MaxOutputTokens: int32(c.cfg.MaxOutputTokens),
		Tools:           []*genai.Tool{searchProductsTool()},
	}
	if opts.Instructions != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.Instructions, genai.RoleUser)
	}
	if opts.AudioOutput {
		cfg.ResponseModalities = []genai.Modality{genai.ModalityAudio, genai.ModalityText}
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		speech := &genai.SpeechConfig{}
		if opts.Voice != "" {
			speech.VoiceConfig = &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: opts.Voice},
			}
		}
		if opts.Language != "" {
			speech.LanguageCode = opts.Language
		}
		cfg.SpeechConfig = speech
	} else {
		cfg.ResponseModalities = []genai.Modality{genai.ModalityText}
	}

	session, err := c.client.Live.Connect(ctx, opts.Model, cfg)
	if err != nil {
		return nil, fmt.Errorf("live connect: %w", err)
	}
	return &liveConn{session: session}, nil
}

type liveConn struct {
	session *genai.Session
}

func (l *liveConn) SendText(text string) error {
	return l.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		TurnComplete: genai.Ptr(true),
	})
}

func (l *liveConn) SendTurn(text string, frame []byte, mimeType string) error {
	parts := make([]*genai.Part, 0, 2)
	if text != "" {
		parts = append(parts, genai.NewPartFromText(text))
	}
	if len(frame) > 0 {
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, genai.NewPartFromBytes(frame, mimeType))
	}
	return l.session.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{{Role: genai.RoleUser, Parts: parts}},
		TurnComplete: genai.Ptr(true),
	})
}

func (l *liveConn) SendMedia(data []byte, mimeType string) error {
	return l.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (l *liveConn) SendToolResponse(id, name string, response map[string]any) error {
	return l.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{
			{ID: id, Name: name, Response: response},
		},
	})
}

func (l *liveConn) Receive() (*LiveEvent, error) {
	msg, err := l.session.Receive()
	if err != nil {
		return nil, err
	}
	return flattenServerMessage(msg), nil
}

func (l *liveConn) Close() error {
	return l.session.Close()
}

func flattenServerMessage(msg *genai.LiveServerMessage) *LiveEvent {
	ev := &LiveEvent{}
	if msg == nil {
		return ev
	}
	if msg.SetupComplete != nil {
		ev.SetupComplete = true
	}
	if sc := msg.ServerContent; sc != nil {
		ev.TurnComplete = sc.TurnComplete
		ev.Interrupted = sc.Interrupted
		if sc.InputTranscription != nil {
			ev.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			ev.OutputTranscript = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.Text != "" {
					ev.Text += part.Text
				}
				if part.InlineData != nil && len(part.InlineData.Data) > 0 {
					ev.Audio = append(ev.Audio, part.InlineData.Data...)
				}
			}
		}
	}
	if tc := msg.ToolCall; tc != nil {
		for _, call := range tc.FunctionCalls {
			ev.ToolCalls = append(ev.ToolCalls, ToolCall{
				ID:    call.ID,
				Name:  call.Name,
				Query: queryFromArgs(call.Args),
			})
		}
	}
	return ev
}
