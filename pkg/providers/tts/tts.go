// Package tts wraps Google Cloud Text-to-Speech for the live voice sessions.
// TTS is optional: when the client cannot be created the sessions run
// text-only.
package tts

import (
	"context"
	"encoding/base64"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// Provider synthesizes speech from text. Implementations must be safe for
// concurrent use.
type Provider interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Close() error
}

// Config selects the voice and output encoding.
type Config struct {
	LanguageCode string
	VoiceName    string
	// AudioEncoding is MP3, LINEAR16, or OGG_OPUS.
	AudioEncoding string
}

// Google is the Cloud Text-to-Speech backed Provider.
type Google struct {
	client   *texttospeech.Client
	voice    *texttospeechpb.VoiceSelectionParams
	encoding texttospeechpb.AudioEncoding
}

// NewGoogle creates a TTS client using application default credentials.
func NewGoogle(ctx context.Context, cfg Config) (*Google, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}

	encoding := texttospeechpb.AudioEncoding_MP3
	switch cfg.AudioEncoding {
	case "", "MP3":
	case "LINEAR16":
		encoding = texttospeechpb.AudioEncoding_LINEAR16
	case "OGG_OPUS":
		encoding = texttospeechpb.AudioEncoding_OGG_OPUS
	default:
		_ = client.Close()
		return nil, fmt.Errorf("unsupported audio encoding %q", cfg.AudioEncoding)
	}

	language := cfg.LanguageCode
	if language == "" {
		language = "en-US"
	}
	voice := cfg.VoiceName
	if voice == "" {
		voice = "en-US-Neural2-F"
	}

	return &Google{
		client: client,
		voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			Name:         voice,
		},
		encoding: encoding,
	}, nil
}

// Synthesize converts text to audio bytes in the configured encoding.
func (g *Google) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}
	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: g.voice,
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: g.encoding,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	return resp.GetAudioContent(), nil
}

func (g *Google) Close() error {
	return g.client.Close()
}

// ChunkBase64 splits audio into chunkBytes-sized slices of raw audio and
// base64-encodes each one. Every chunk decodes on its own, so clients can
// play as they receive.
func ChunkBase64(audio []byte, chunkBytes int) []string {
	if len(audio) == 0 {
		return nil
	}
	if chunkBytes <= 0 {
		chunkBytes = 4096
	}
	chunks := make([]string, 0, len(audio)/chunkBytes+1)
	for start := 0; start < len(audio); start += chunkBytes {
		end := start + chunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		chunks = append(chunks, base64.StdEncoding.EncodeToString(audio[start:end]))
	}
	return chunks
}
