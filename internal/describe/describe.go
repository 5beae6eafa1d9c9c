// Package describe turns an image into a short spoken-style description using
// a hosted multimodal model.
package describe

import (
	"errors"
	"strings"
)

// SystemPrompt instructs the model to describe the picture for a visually
// impaired listener, in Brazilian Portuguese, in at most 100 words.
const SystemPrompt = `Descreva a imagem de forma clara, objetiva e sensorial, com até 100 palavras, ` +
	`como se estivesse guiando uma pessoa com deficiência visual. Destaque os elementos ` +
	`principais da cena, o contexto, as cores predominantes e detalhes visuais marcantes. ` +
	`Se houver pessoas na imagem, não tente identificar quem são. Em vez disso, descreva ` +
	`características visuais como expressões faciais, postura, cor e estilo das roupas, ` +
	`penteado, tom de pele e outros traços visíveis, ressaltando os pontos fortes de sua ` +
	`aparência de maneira respeitosa e inclusiva. Evite termos vagos como "bonito" ou ` +
	`"agradável" e priorize uma descrição útil, empática e descritiva.`

const (
	DefaultOpenAIModel = "gpt-4o"
	DefaultGeminiModel = "gemini-2.0-flash"
	DefaultMaxTokens   = 200
)

var (
	// ErrEmptyImage is returned when no image data was supplied.
	ErrEmptyImage = errors.New("image data is empty")
	// ErrEmptyDescription is returned when the model answered with blank text.
	ErrEmptyDescription = errors.New("model returned an empty description")
)

// stripDataURL removes a "data:<mime>;base64," prefix if the caller passed one.
func stripDataURL(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			return s[i+1:]
		}
	}
	return s
}
