package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
)

// pollyMaxText is Polly's per-request limit on billed characters for plain text.
const pollyMaxText = 3000

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyClient synthesizes MP3 audio with Amazon Polly.
type PollyClient struct {
	client  synthClient
	voiceID string
	engine  pollytypes.Engine
	timeout time.Duration
	logger  *slog.Logger
}

// NewPollyClient loads the default AWS credential chain for region.
// engine is "standard" or "neural".
func NewPollyClient(ctx context.Context, region, voiceID, engine string, timeout time.Duration) (*PollyClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return newPollyWithClient(polly.NewFromConfig(awsCfg), voiceID, engine, timeout), nil
}

func newPollyWithClient(client synthClient, voiceID, engine string, timeout time.Duration) *PollyClient {
	if voiceID == "" {
		voiceID = "Camila"
	}
	e := pollytypes.EngineStandard
	if strings.EqualFold(engine, "neural") {
		e = pollytypes.EngineNeural
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &PollyClient{
		client:  client,
		voiceID: voiceID,
		engine:  e,
		timeout: timeout,
		logger:  slog.Default(),
	}
}

func (p *PollyClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if len([]rune(text)) > pollyMaxText {
		return nil, fmt.Errorf("text too long for Polly: max %d characters", pollyMaxText)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out, err := p.client.SynthesizeSpeech(reqCtx, &polly.SynthesizeSpeechInput{
		Engine:       p.engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(p.voiceID),
	})
	if err != nil {
		return nil, describePollyError(err)
	}
	if out == nil || out.AudioStream == nil {
		return nil, ErrEmptyAudio
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(io.LimitReader(out.AudioStream, maxAudioSize))
	if err != nil {
		return nil, fmt.Errorf("reading Polly audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	if !LooksLikeMP3(audio) {
		p.logger.Warn("Polly audio does not start with an MP3 header", "bytes", len(audio))
	}
	return audio, nil
}

func describePollyError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TextLengthExceededException", "InvalidSsmlException", "LexiconNotFoundException":
			return fmt.Errorf("polly rejected input (%s): %w", apiErr.ErrorCode(), err)
		case "TooManyRequestsException", "ThrottlingException":
			return fmt.Errorf("polly throttled: %w", err)
		default:
			return fmt.Errorf("polly %s: %w", apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("polly synthesize: %w", err)
}
