package tts

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
)

// Google synthesizes speech with Google Cloud Text-to-Speech using
// application default credentials.
type Google struct {
	client *texttospeech.Client
	voice  string
}

// NewGoogle dials the service. voice may be empty to let the service pick
// one for the language.
func NewGoogle(ctx context.Context, voice string) (*Google, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}
	return &Google{client: client, voice: voice}, nil
}

// Close releases the client connection.
func (g *Google) Close() error {
	return g.client.Close()
}

// Synthesize returns MP3 audio for text.
func (g *Google) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if lang == "" {
		lang = "en-US"
	}
	req := &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: lang,
			Name:         g.voice,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_FEMALE,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  0.9,
		},
	}
	resp, err := g.client.SynthesizeSpeech(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("SynthesizeSpeech: %w", err)
	}
	return resp.AudioContent, nil
}
